package arrivals

import "time"

// RunReport is the persisted summary of one poll run
type RunReport struct {
	RunID      string    `json:"runId"`
	Source     string    `json:"source"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	Pairs      int       `json:"pairs"`
	Fetched    int       `json:"fetched"`
	Validated  int       `json:"validated"`
	Rejected   int       `json:"rejected"`
	Stored     int       `json:"stored"`
	Duplicates int       `json:"duplicates"`
	Error      string    `json:"error,omitempty"`
}
