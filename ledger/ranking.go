package ledger

import "sort"

// Rank orders members by points descending. Ties go to the earlier joiner and
// then to the smaller id, so equal totals always come back in the same order.
// The input slice is not modified.
func Rank(members []Member) []Member {
	out := make([]Member, len(members))
	copy(out, members)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.TotalPoints != b.TotalPoints {
			return a.TotalPoints > b.TotalPoints
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return out
}

// Positions assigns 1-based competition ranks ("1224") to an already ranked slice.
func Positions(ranked []Member) []int {
	pos := make([]int, len(ranked))
	for i := range ranked {
		if i > 0 && ranked[i].TotalPoints == ranked[i-1].TotalPoints {
			pos[i] = pos[i-1]
			continue
		}
		pos[i] = i + 1
	}
	return pos
}
