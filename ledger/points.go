package ledger

// Accrue applies a point delta to a member, never letting the total go below zero.
// Only ledger create and delete paths call it, inside the triggering transaction.
func Accrue(m Member, delta int) Member {
	m.TotalPoints += delta
	if m.TotalPoints < 0 {
		m.TotalPoints = 0
	}
	return m
}

// accrualFor returns the delta for a ledger event: one submission appearing or disappearing.
func accrualFor(created bool) int {
	if created {
		return PointsPerSubmission
	}
	return -PointsPerSubmission
}
