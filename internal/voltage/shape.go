package voltage

import "chargewatch/internal/model"

// Thresholds tune the shape heuristic. Values are volts except MinDropPercent.
type Thresholds struct {
	FlatMax        float64
	PeakMin        float64
	ValleyMax      float64
	MinDropPercent float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{FlatMax: 10, PeakMin: 100, ValleyMax: 70, MinDropPercent: 40}
}

type extremum struct {
	idx int
	val float64
}

// Shape is the outcome of classifying one voltage trace.
type Shape struct {
	Verdict model.Verdict
	Samples int
	Peaks   int
	Valleys int
	Min     float64
	Max     float64
}

// Classify reads a time-ordered voltage trace.
//
// An empty trace is NoData. A trace whose maximum stays at or below FlatMax is
// FlatNearZero. Otherwise local maxima at or above PeakMin are collected by
// comparing each sample with its neighbours, plus the first and last samples
// when they exceed their single neighbour. Two peaks whose lowest sample in
// between sits at least MinDropPercent below the higher peak make a
// TwoPeakPattern. Anything else is Other.
func Classify(values []float64, th Thresholds) Shape {
	s := Shape{Samples: len(values)}
	if len(values) == 0 {
		s.Verdict = model.VerdictNoData
		return s
	}
	s.Min, s.Max = values[0], values[0]
	for _, v := range values[1:] {
		if v < s.Min {
			s.Min = v
		}
		if v > s.Max {
			s.Max = v
		}
	}
	if s.Max <= th.FlatMax {
		s.Verdict = model.VerdictFlatNearZero
		return s
	}

	peaks, valleys := extrema(values, th)
	s.Peaks, s.Valleys = len(peaks), len(valleys)
	if len(peaks) >= 2 && twoPeaks(values, peaks[0], peaks[1], th.MinDropPercent) {
		s.Verdict = model.VerdictTwoPeakPattern
		return s
	}
	s.Verdict = model.VerdictOther
	return s
}

func extrema(arr []float64, th Thresholds) ([]extremum, []extremum) {
	var peaks, valleys []extremum
	for i := 1; i < len(arr)-1; i++ {
		switch {
		case arr[i] > arr[i-1] && arr[i] > arr[i+1]:
			if arr[i] >= th.PeakMin {
				peaks = append(peaks, extremum{i, arr[i]})
			}
		case arr[i] < arr[i-1] && arr[i] < arr[i+1]:
			if arr[i] < th.ValleyMax {
				valleys = append(valleys, extremum{i, arr[i]})
			}
		}
	}
	n := len(arr)
	if n > 1 {
		if arr[0] > arr[1] && arr[0] >= th.PeakMin {
			peaks = append([]extremum{{0, arr[0]}}, peaks...)
		}
		if arr[n-1] > arr[n-2] && arr[n-1] >= th.PeakMin {
			peaks = append(peaks, extremum{n - 1, arr[n-1]})
		}
	}
	return peaks, valleys
}

func twoPeaks(arr []float64, first, second extremum, minDrop float64) bool {
	if first.idx >= second.idx || second.idx-first.idx < 2 {
		return false
	}
	low := arr[first.idx+1]
	for _, v := range arr[first.idx+1 : second.idx] {
		if v < low {
			low = v
		}
	}
	high := first.val
	if second.val > high {
		high = second.val
	}
	if high <= 0 {
		return false
	}
	return (high-low)/high*100 >= minDrop
}
