package paper

import (
	"math"
	"sort"
)

// Apportion splits total across weighted levels with the largest-remainder
// (Hamilton) method: every level gets the floor of its quota and the units
// left over go to the largest fractional parts, lower level first on ties.
// The result always sums to total.
func Apportion(total int, weights map[int]float64) map[int]int {
	out := make(map[int]int, len(weights))
	if total <= 0 || len(weights) == 0 {
		return out
	}

	levels := make([]int, 0, len(weights))
	sum := 0.0
	for level, w := range weights {
		levels = append(levels, level)
		sum += w
	}
	sort.Ints(levels)
	if sum <= 0 {
		return out
	}

	type share struct {
		level int
		frac  float64
	}
	shares := make([]share, 0, len(levels))
	assigned := 0
	for _, level := range levels {
		// Rounded so float noise cannot split ties or floor an exact quota.
		quota := math.Round(float64(total)*weights[level]/sum*1e9) / 1e9
		whole := int(math.Floor(quota))
		out[level] = whole
		assigned += whole
		shares = append(shares, share{level: level, frac: quota - float64(whole)})
	}

	sort.SliceStable(shares, func(i, j int) bool {
		if shares[i].frac != shares[j].frac {
			return shares[i].frac > shares[j].frac
		}
		return shares[i].level < shares[j].level
	})
	for i := 0; assigned < total; i = (i + 1) % len(shares) {
		out[shares[i].level]++
		assigned++
	}
	return out
}
