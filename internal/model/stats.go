package model

// Stats summarizes a user's full task set for the dashboard; active filters
// never narrow it.
type Stats struct {
	Total              int              `json:"total"`
	Completed          int              `json:"completed"`
	Active             int              `json:"active"`
	Overdue            int              `json:"overdue"`
	CompletionPct      int              `json:"completion_pct"`
	ByPriority         map[Priority]int `json:"by_priority"`
	CreatedLast7Days   int              `json:"created_last_7_days"`
	CompletedLast7Days int              `json:"completed_last_7_days"`
	Monthly            []TimeBucket     `json:"monthly"`
	Daily              []TimeBucket     `json:"daily"`
}

// TimeBucket is one bar of the creation/completion chart, oldest first.
type TimeBucket struct {
	Label     string `json:"label"`
	Created   int    `json:"created"`
	Completed int    `json:"completed"`
}

// ZeroStats returns an all-zero Stats with the priority map and chart buckets
// populated so templates can render without nil checks.
func ZeroStats() Stats {
	return Stats{
		ByPriority: map[Priority]int{
			PriorityLow:    0,
			PriorityMedium: 0,
			PriorityHigh:   0,
		},
		Monthly: make([]TimeBucket, 0, 6),
		Daily:   make([]TimeBucket, 0, 7),
	}
}
