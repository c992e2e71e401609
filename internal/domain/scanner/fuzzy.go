package scanner

// window is a candidate fuzzy match: runes [start, end) of the text.
type window struct {
	start, end int
	dist       int
}

// bestWindow slides windows of length len(pat)-k .. len(pat)+k over text and
// returns the one closest to pat, if any is within k edits. Ties go to the
// earliest start, then to the length closest to len(pat), then the shorter.
func bestWindow(pat, text []rune, k int) (window, bool) {
	m := len(pat)
	if m == 0 || k <= 0 {
		return window{}, false
	}
	prev := make([]int, m+k+1)
	curr := make([]int, m+k+1)
	best := window{dist: k + 1}

	for start := 0; start < len(text); start++ {
		n := min(m+k, len(text)-start)
		if n < m-k {
			break
		}
		dists := prefixDistances(pat, text[start:start+n], k, prev, curr)
		if dists == nil {
			continue
		}
		for l := max(1, m-k); l <= n; l++ {
			d := dists[l]
			if d > k {
				continue
			}
			if d < best.dist || (d == best.dist && best.start == start && abs(l-m) < abs(best.end-best.start-m)) {
				best = window{start: start, end: start + l, dist: d}
			}
		}
		if best.dist == 0 {
			break
		}
	}
	return best, best.dist <= k
}

// prefixDistances computes the Levenshtein distance between pat and every
// prefix win[:j], capped at k+1. The returned slice aliases prev or curr and
// is valid until the next call. Returns nil as soon as no prefix can stay
// within k edits.
func prefixDistances(pat, win []rune, k int, prev, curr []int) []int {
	n := len(win)
	limit := k + 1
	for j := 0; j <= n; j++ {
		prev[j] = min(j, limit)
	}

	for i := 1; i <= len(pat); i++ {
		for j := 0; j <= n; j++ {
			curr[j] = limit
		}
		curr[0] = min(i, limit)
		rowMin := curr[0]

		lo, hi := max(1, i-k), min(n, i+k)
		for j := lo; j <= hi; j++ {
			cost := 1
			if pat[i-1] == win[j-1] {
				cost = 0
			}
			v := prev[j-1] + cost
			if d := prev[j] + 1; d < v {
				v = d
			}
			if ins := curr[j-1] + 1; ins < v {
				v = ins
			}
			curr[j] = min(v, limit)
			rowMin = min(rowMin, curr[j])
		}
		if rowMin > k {
			return nil
		}
		prev, curr = curr, prev
	}
	return prev
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
