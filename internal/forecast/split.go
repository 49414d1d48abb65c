package forecast

import (
	"math"
)

// Split is a chronological train/test partition of distinct observed years.
type Split struct {
	TrainYears []int
	TestYears  []int
}

// InTrain reports whether the year falls in the training partition.
func (s Split) InTrain(year int) bool {
	for _, y := range s.TrainYears {
		if y == year {
			return true
		}
	}
	return false
}

const (
	splitRangeFraction  = 0.75
	splitPrefixFraction = 0.70
)

// ChronologicalSplit partitions the given distinct years (ascending) at 75%
// of the year range. A random split would leak future information into
// training. When sparse or irregular years leave the range-based training
// set empty, fall back to the largest prefix holding at least 70% of the
// distinct years.
func ChronologicalSplit(years []int) Split {
	if len(years) == 0 {
		return Split{}
	}
	if len(years) == 1 {
		return Split{TrainYears: years}
	}

	minYear := years[0]
	maxYear := years[len(years)-1]
	cutoff := float64(minYear) + splitRangeFraction*float64(maxYear-minYear)

	var split Split
	for _, y := range years {
		if float64(y) <= cutoff {
			split.TrainYears = append(split.TrainYears, y)
		} else {
			split.TestYears = append(split.TestYears, y)
		}
	}

	if len(split.TrainYears) == 0 {
		n := int(math.Ceil(splitPrefixFraction * float64(len(years))))
		if n < 1 {
			n = 1
		}
		split.TrainYears = years[:n]
		split.TestYears = years[n:]
	}

	return split
}
