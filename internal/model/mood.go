package model

// MoodEntry is a daily mood check-in. Score runs 1 (worst) to 10 (best).
type MoodEntry struct {
	SyncRecord
	Score int    `db:"score" json:"score"`
	Note  string `db:"note" json:"note"`
}
