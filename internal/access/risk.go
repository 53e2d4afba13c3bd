package access

import "time"

const (
	riskIPChange  = 25
	riskOffHours  = 15
	riskVelocity  = 20
	riskMaxScore  = 100
	historyWindow = 50
	historyMin    = 3
)

// riskSignals are the observations feeding riskScore.
type riskSignals struct {
	Category Category
	Level    Level
	IPChange bool
	OffHours bool
	Velocity bool
}

func categoryWeight(c Category) int {
	switch c {
	case CategoryEmergencyResponse, CategoryBreachInvestigation:
		return 35
	case CategoryFinancialReports, CategoryPaymentProcessing, CategoryUserManagement,
		CategorySecurityAudit, CategorySystemConfiguration:
		return 20
	}
	return 5
}

func levelWeight(l Level) int {
	switch l {
	case LevelReadOnly:
		return 0
	case LevelReadWrite:
		return 5
	case LevelAdmin:
		return 10
	case LevelFullAccess:
		return 15
	case LevelEmergency:
		return 20
	}
	return 20
}

// riskScore is advisory: it grades an allowed request and never denies it.
func riskScore(sig riskSignals) int {
	score := categoryWeight(sig.Category) + levelWeight(sig.Level)
	if sig.IPChange {
		score += riskIPChange
	}
	if sig.OffHours {
		score += riskOffHours
	}
	if sig.Velocity {
		score += riskVelocity
	}
	if score > riskMaxScore {
		score = riskMaxScore
	}
	if score < 0 {
		score = 0
	}
	return score
}

// offHours reports whether at falls outside the hours the vendor has
// historically started sessions in. Too little history yields false.
func offHours(history []VendorSession, exclude string, at time.Time) bool {
	n := 0
	hour := at.UTC().Hour()
	for _, sess := range history {
		if sess.ID == exclude {
			continue
		}
		n++
		if hourDistance(sess.StartedAt.UTC().Hour(), hour) <= 1 {
			return false
		}
	}
	return n >= historyMin
}

func hourDistance(a, b int) int {
	d := a - b
	if d < 0 {
		d = -d
	}
	if d > 12 {
		d = 24 - d
	}
	return d
}
