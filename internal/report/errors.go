package report

import "powermon/internal/errors"

const (
	ErrInsufficientReadings = errors.ErrorCode("report_insufficient_readings")
	ErrRenderFailed         = errors.ErrorCode("report_render_failed")
)
