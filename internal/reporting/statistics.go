// Package reporting turns the objects of finished images into tables: one
// detail table per image, the all-over report over all images and the plate,
// well and image heatmaps.
package reporting

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Statistics accumulates the values of one report column. Invalid values
// are only counted.
type Statistics struct {
	Nr      uint64  `json:"nr"`
	Invalid uint64  `json:"invalid"`
	Sum     float64 `json:"sum"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Mean    float64 `json:"mean"`
}

// Add folds a valid value into the statistic.
func (s *Statistics) Add(v float64) {
	if s.Nr == 0 || v < s.Min {
		s.Min = v
	}
	if s.Nr == 0 || v > s.Max {
		s.Max = v
	}
	s.Nr++
	s.Sum += v
	s.Mean = s.Sum / float64(s.Nr)
}

// AddInvalid counts a value that did not pass the filters.
func (s *Statistics) AddInvalid() {
	s.Invalid++
}

// Merge folds other into s.
func (s *Statistics) Merge(other Statistics) {
	if other.Nr > 0 {
		if s.Nr == 0 || other.Min < s.Min {
			s.Min = other.Min
		}
		if s.Nr == 0 || other.Max > s.Max {
			s.Max = other.Max
		}
		s.Nr += other.Nr
		s.Sum += other.Sum
		s.Mean = s.Sum / float64(s.Nr)
	}
	s.Invalid += other.Invalid
}

// Median returns the 50% quantile of values, NaN for an empty slice.
func Median(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	return stat.Quantile(0.5, stat.Empirical, sorted, nil)
}

// Mean returns the arithmetic mean of values, NaN for an empty slice.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	return stat.Mean(values, nil)
}
