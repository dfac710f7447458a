package valuation

import (
	"bytes"
	"fmt"
	"time"

	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"github.com/mbruckner/depotsync/internal/models"
)

// maxChartPoints bounds the rendered point count; denser series are
// downsampled before rendering.
const maxChartPoints = 240

// RenderHistoryChart renders a PNG line chart from a rebuilt history.
// Portfolio Value (blue solid) and Invested (gray dashed) on the primary
// axis, cumulative TWR (green) in percent on the secondary axis, rebased
// so the first charted point is zero. Returns raw PNG bytes.
func RenderHistoryChart(result *models.HistoryResult) ([]byte, error) {
	if len(result.Dates) < 2 {
		return nil, fmt.Errorf("need at least 2 data points, got %d", len(result.Dates))
	}

	points := make([]models.SeriesPoint, 0, len(result.Dates))
	indexByDate := make(map[string]int, len(result.Dates))
	for i, ds := range result.Dates {
		d, err := time.Parse("2006-01-02", ds)
		if err != nil {
			continue
		}
		indexByDate[ds] = i
		points = append(points, models.SeriesPoint{Date: d, Value: result.Values[i], Invested: result.Invested[i]})
	}
	if len(points) < 2 {
		return nil, fmt.Errorf("not enough parseable dates")
	}

	if len(points) > maxChartPoints {
		points = DownsampleToWeekly(points)
	}
	if len(points) > maxChartPoints {
		points = DownsampleToMonthly(points)
	}

	withTWR := len(result.TWR) == len(result.Dates)
	var twr []float64
	if withTWR {
		twr = RebaseTWR(result.TWR, indexByDate[points[0].Date.Format("2006-01-02")])
	}

	xValues := make([]time.Time, 0, len(points))
	valueY := make([]float64, 0, len(points))
	investedY := make([]float64, 0, len(points))
	twrY := make([]float64, 0, len(points))

	for _, p := range points {
		xValues = append(xValues, p.Date)
		valueY = append(valueY, p.Value)
		investedY = append(investedY, p.Invested)
		if withTWR {
			twrY = append(twrY, twr[indexByDate[p.Date.Format("2006-01-02")]]*100)
		}
	}

	valueSeries := chart.TimeSeries{
		Name: "Portfolio Value",
		Style: chart.Style{
			StrokeColor: drawing.ColorFromHex("2563eb"), // blue-600
			StrokeWidth: 2.5,
		},
		XValues: xValues,
		YValues: valueY,
	}

	investedSeries := chart.TimeSeries{
		Name: "Invested",
		Style: chart.Style{
			StrokeColor:     drawing.ColorFromHex("9ca3af"), // gray-400
			StrokeWidth:     1.5,
			StrokeDashArray: []float64{5.0, 3.0},
		},
		XValues: xValues,
		YValues: investedY,
	}

	graph := chart.Chart{
		Title:  "Portfolio History",
		Width:  900,
		Height: 400,
		Background: chart.Style{
			Padding: chart.Box{Top: 40, Left: 10, Right: 20, Bottom: 10},
		},
		XAxis: chart.XAxis{
			TickPosition: chart.TickPositionBetweenTicks,
			ValueFormatter: func(v interface{}) string {
				if t, ok := v.(float64); ok {
					return chart.TimeFromFloat64(t).Format("Jan 06")
				}
				return ""
			},
		},
		YAxis: chart.YAxis{
			ValueFormatter: func(v interface{}) string {
				if f, ok := v.(float64); ok {
					return fmt.Sprintf("%.0f €", f)
				}
				return ""
			},
		},
		YAxisSecondary: chart.YAxis{
			ValueFormatter: func(v interface{}) string {
				if f, ok := v.(float64); ok {
					return fmt.Sprintf("%.1f %%", f)
				}
				return ""
			},
		},
		Series: []chart.Series{
			valueSeries,
			investedSeries,
		},
	}

	if withTWR {
		graph.Series = append(graph.Series, chart.TimeSeries{
			Name:  "TWR",
			YAxis: chart.YAxisSecondary,
			Style: chart.Style{
				StrokeColor: drawing.ColorFromHex("16a34a"), // green-600
				StrokeWidth: 1.5,
			},
			XValues: xValues,
			YValues: twrY,
		})
	}

	graph.Elements = []chart.Renderable{
		chart.LegendLeft(&graph),
	}

	var buf bytes.Buffer
	if err := graph.Render(chart.PNG, &buf); err != nil {
		return nil, fmt.Errorf("chart render failed: %w", err)
	}

	return buf.Bytes(), nil
}

// renderChart writes the history chart into the charts cache directory.
func (s *Service) renderChart(result *models.HistoryResult) error {
	png, err := RenderHistoryChart(result)
	if err != nil {
		return err
	}
	return s.storage.WriteRaw("charts", "portfolio_history.png", png)
}
