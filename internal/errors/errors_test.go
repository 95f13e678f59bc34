package errors_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"powermon/internal/errors"
)

func TestErrorMessages(t *testing.T) {
	factory := errors.New()

	err := factory.New(errors.ErrNotFound)
	assert.Equal(t, "Record not found", err.Error())

	err = factory.WithMessage(errors.ErrNotFound, "meter mtr-1 not found")
	assert.Equal(t, "meter mtr-1 not found", err.Error())

	err = factory.WithData(errors.ErrValidationFailed, "voltage must be non-negative")
	assert.Contains(t, err.Error(), "voltage must be non-negative")
}

func TestWrapPreservesCause(t *testing.T) {
	factory := errors.New()
	cause := fmt.Errorf("disk I/O error")

	err := factory.Wrap(errors.ErrOperationFailed, cause)
	require.Error(t, err)
	assert.Equal(t, errors.ErrOperationFailed, err.Code())
	assert.ErrorIs(t, err, cause)
}

func TestCodeOf(t *testing.T) {
	factory := errors.New()

	err := factory.New(errors.ErrInvalidEnum)
	assert.Equal(t, errors.ErrInvalidEnum, errors.CodeOf(err))

	wrapped := fmt.Errorf("outer: %w", err)
	assert.Equal(t, errors.ErrInvalidEnum, errors.CodeOf(wrapped))

	assert.Equal(t, errors.ErrInternal, errors.CodeOf(fmt.Errorf("plain")))
}

func TestHasCodeWalksChain(t *testing.T) {
	factory := errors.New()

	inner := factory.New(errors.ErrNotFound)
	outer := factory.Wrap(errors.ErrOperationFailed, inner)

	assert.True(t, errors.HasCode(outer, errors.ErrOperationFailed))
	assert.True(t, errors.HasCode(outer, errors.ErrNotFound))
	assert.False(t, errors.HasCode(outer, errors.ErrInvalidEnum))
}

func TestKindPredicates(t *testing.T) {
	factory := errors.New()

	assert.True(t, errors.IsNotFound(factory.New(errors.ErrNotFound)))
	assert.False(t, errors.IsNotFound(factory.New(errors.ErrValidationFailed)))

	assert.True(t, errors.IsValidation(factory.WithData(errors.ErrValidationFailed, "charge_pct")))
	assert.True(t, errors.IsInvalidEnum(factory.WithMessage(errors.ErrInvalidEnum, "bad meter type")))
	assert.False(t, errors.IsInvalidEnum(nil))
}
