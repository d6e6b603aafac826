package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAccrue(t *testing.T) {
	m := Member{ID: "a", TotalPoints: 5}
	assert.Equal(t, 10, Accrue(m, PointsPerSubmission).TotalPoints)
	assert.Equal(t, 0, Accrue(m, -PointsPerSubmission).TotalPoints)
	assert.Equal(t, 0, Accrue(m, -20).TotalPoints, "totals are clamped at zero")
	assert.Equal(t, 5, m.TotalPoints, "input is not mutated")
}

func TestRankOrdersByPointsThenJoinTime(t *testing.T) {
	base := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	members := []Member{
		{ID: "d", Name: "Dan", TotalPoints: 5, CreatedAt: base.Add(3 * time.Hour)},
		{ID: "b", Name: "Bea", TotalPoints: 10, CreatedAt: base.Add(2 * time.Hour)},
		{ID: "a", Name: "Ann", TotalPoints: 10, CreatedAt: base.Add(1 * time.Hour)},
		{ID: "c", Name: "Cy", TotalPoints: 0, CreatedAt: base},
		{ID: "e", Name: "Eve", TotalPoints: 10, CreatedAt: base.Add(1 * time.Hour)},
	}

	ranked := Rank(members)

	var ids []string
	for _, m := range ranked {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []string{"a", "e", "b", "d", "c"}, ids)
	assert.Equal(t, "d", members[0].ID, "input order is preserved")

	for i := 0; i < 10; i++ {
		assert.Equal(t, ranked, Rank(members), "ranking is deterministic")
	}
}

func TestPositions(t *testing.T) {
	ranked := []Member{{TotalPoints: 10}, {TotalPoints: 10}, {TotalPoints: 5}, {TotalPoints: 0}, {TotalPoints: 0}}
	assert.Equal(t, []int{1, 1, 3, 4, 4}, Positions(ranked))
	assert.Empty(t, Positions(nil))
}

func TestZoneClockToday(t *testing.T) {
	kst := time.FixedZone("KST", 9*60*60)
	clock := &ZoneClock{
		Location: kst,
		// 20:30 UTC on the 9th is already the 10th in Seoul.
		Now: func() time.Time { return time.Date(2026, 1, 9, 20, 30, 0, 0, time.UTC) },
	}
	assert.Equal(t, "2026-01-10", clock.Today().Format(DateLayout))

	d, err := parseDate(clock, "")
	assert.NoError(t, err)
	assert.Equal(t, "2026-01-10", d.Format(DateLayout))

	_, err = parseDate(clock, "10/01/2026")
	assert.ErrorIs(t, err, ErrValidation)
}
