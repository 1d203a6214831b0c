package calculator

import (
	"errors"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"GridSentinel/internal/model"
)

// ErrNoData is returned when a percentile is requested over an empty series.
var ErrNoData = errors.New("no data for percentile calculation")

// PercentileOfScore returns the percentile rank (0~100) of score within values.
// Ties are ranked by the mean of their positions, so a score equal to every value is 50+50/n.
func PercentileOfScore(values []float64, score float64) (float64, error) {
	n := len(values)
	if n == 0 {
		return 0, ErrNoData
	}
	if math.IsNaN(score) {
		return 0, errors.New("score is NaN")
	}

	sorted := make([]float64, 0, n)
	for _, v := range values {
		if !math.IsNaN(v) {
			sorted = append(sorted, v)
		}
	}
	if len(sorted) == 0 {
		return 0, ErrNoData
	}
	sort.Float64s(sorted)
	n = len(sorted)

	left := sort.SearchFloat64s(sorted, score)
	right := int(math.Round(stat.CDF(score, stat.Empirical, sorted, nil) * float64(n)))

	rank := float64(left + right)
	if right > left {
		rank++
	}
	return rank * 50 / float64(n), nil
}

// HistoryPercentile ranks the most recent close of bars within the whole series.
func HistoryPercentile(bars []model.OHLCV) (float64, error) {
	closes := extractCloses(bars)
	if len(closes) == 0 {
		return 0, ErrNoData
	}
	return PercentileOfScore(closes, closes[len(closes)-1])
}

func extractCloses(bars []model.OHLCV) []float64 {
	closes := make([]float64, 0, len(bars))
	for _, b := range bars {
		if b.Close > 0 {
			closes = append(closes, b.Close)
		}
	}
	return closes
}
