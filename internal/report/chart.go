package report

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"powermon/internal/errors"
)

const minChartReadings = 2

// RenderHistoryChart draws the meter's trailing window as a PNG with
// wattage on the primary axis and charge on the secondary axis. The
// lowest charge sample is annotated.
func (r *Reporter) RenderHistoryChart(ctx context.Context, meterID string, hours int, w io.Writer) error {
	errFactory := errors.New()

	readings, err := r.GetHistory(ctx, meterID, hours)
	if err != nil {
		return err
	}
	if len(readings) < minChartReadings {
		return errFactory.WithData(ErrInsufficientReadings,
			fmt.Sprintf("meter %s has %d readings in window", meterID, len(readings)))
	}

	var (
		times   = make([]float64, 0, len(readings))
		watts   = make([]float64, 0, len(readings))
		charges = make([]float64, 0, len(readings))
		iMin    int
	)
	for i, reading := range readings {
		if readings[iMin].ChargePct >= reading.ChargePct {
			iMin = i
		}
		times = append(times, float64(reading.Timestamp.Unix()))
		watts = append(watts, reading.Wattage)
		charges = append(charges, reading.ChargePct)
	}

	graph := chart.Chart{
		Width:  900,
		Height: 400,
		Background: chart.Style{
			Padding: chart.Box{
				Top:    50,
				Left:   10,
				Right:  25,
				Bottom: 10,
			},
			FillColor: drawing.ColorFromHex("eeeeee"),
		},
		XAxis: chart.XAxis{
			Name:         "Time",
			TickPosition: chart.TickPositionBetweenTicks,
			ValueFormatter: func(v interface{}) string {
				vf, ok := v.(float64)
				if !ok {
					return ""
				}
				return time.Unix(int64(vf), 0).UTC().Format("02.01 15:04")
			},
		},
		YAxis: chart.YAxis{
			Name: "Wattage (W)",
			NameStyle: chart.Style{
				TextRotationDegrees: 270,
			},
		},
		YAxisSecondary: chart.YAxis{
			Name: "Charge (%)",
		},
		Series: []chart.Series{
			chart.ContinuousSeries{
				Name:    "Wattage",
				YAxis:   chart.YAxisPrimary,
				XValues: times,
				YValues: watts,
				Style: chart.Style{
					StrokeColor: drawing.ColorFromHex("008800"),
					FillColor:   drawing.ColorFromHex("CCFFCC"),
				},
			},
			chart.ContinuousSeries{
				Name:    "Charge",
				YAxis:   chart.YAxisSecondary,
				XValues: times,
				YValues: charges,
				Style: chart.Style{
					StrokeColor: drawing.ColorFromHex("0044CC"),
				},
			},
			chart.AnnotationSeries{
				YAxis: chart.YAxisSecondary,
				Annotations: []chart.Value2{
					{
						XValue: float64(readings[iMin].Timestamp.Unix()),
						YValue: readings[iMin].ChargePct,
						Label:  fmt.Sprintf("Min %.1f%%", readings[iMin].ChargePct),
					},
				},
			},
		},
	}
	graph.Elements = []chart.Renderable{
		chart.Legend(&graph),
	}

	if err := graph.Render(chart.PNG, w); err != nil {
		return errFactory.Wrap(ErrRenderFailed, err)
	}

	return nil
}
