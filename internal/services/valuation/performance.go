package valuation

import "github.com/mbruckner/depotsync/internal/models"

// Cumulative TWR points are clamped into this range. Sparse early data can
// produce absurd period returns that would dominate the whole series.
const (
	twrFloor = -0.99
	twrCeil  = 10.0
)

// TWRSeries computes the cumulative time-weighted return for a value
// series with its invested-capital overlay. The change in invested capital
// between two points is treated as an external cash flow and removed from
// the period return. The series starts at 0.
func TWRSeries(values, invested []float64) []float64 {
	if len(values) == 0 || len(values) != len(invested) {
		return nil
	}

	twr := make([]float64, len(values))
	cumulative := 1.0

	for i := 1; i < len(values); i++ {
		cashFlow := invested[i] - invested[i-1]
		adjustedEnd := values[i] - cashFlow

		periodReturn := 0.0
		if values[i-1] > 0 {
			periodReturn = adjustedEnd/values[i-1] - 1
		}
		cumulative *= 1 + periodReturn

		point := cumulative - 1
		if point < twrFloor {
			point = twrFloor
		}
		if point > twrCeil {
			point = twrCeil
		}
		twr[i] = point
	}

	return twr
}

// DrawdownSeries computes the drawdown from the running maximum at each
// point. Every value is <= 0.
func DrawdownSeries(values []float64) []float64 {
	dd := make([]float64, len(values))
	runningMax := 0.0
	for i, v := range values {
		if v > runningMax {
			runningMax = v
		}
		if runningMax > 0 {
			dd[i] = (v - runningMax) / runningMax
		}
	}
	return dd
}

// RebaseTWR rebases a cumulative TWR series so the point at index becomes
// zero. Used to show performance since an arbitrary start date.
func RebaseTWR(series []float64, index int) []float64 {
	if index < 0 || index >= len(series) {
		return series
	}
	base := 1 + series[index]
	if base == 0 {
		return series
	}
	out := make([]float64, len(series))
	for i, v := range series {
		out[i] = (1+v)/base - 1
	}
	return out
}

// DownsampleToWeekly keeps the last point per ISO week.
func DownsampleToWeekly(points []models.SeriesPoint) []models.SeriesPoint {
	if len(points) == 0 {
		return nil
	}

	weekly := make([]models.SeriesPoint, 0)
	for i, p := range points {
		if i == len(points)-1 {
			weekly = append(weekly, p)
			continue
		}
		y1, w1 := p.Date.ISOWeek()
		y2, w2 := points[i+1].Date.ISOWeek()
		if w1 != w2 || y1 != y2 {
			weekly = append(weekly, p)
		}
	}

	return weekly
}

// DownsampleToMonthly keeps the last point per calendar month.
func DownsampleToMonthly(points []models.SeriesPoint) []models.SeriesPoint {
	if len(points) == 0 {
		return nil
	}

	monthly := make([]models.SeriesPoint, 0)
	for i, p := range points {
		if i == len(points)-1 || points[i+1].Date.Month() != p.Date.Month() || points[i+1].Date.Year() != p.Date.Year() {
			monthly = append(monthly, p)
		}
	}

	return monthly
}
