package payloads

import (
	"time"

	"github.com/gofrs/uuid"
)

// RunRecord is an append-only history entry for one dispatch attempt. It is
// never read back into scheduling decisions.
type RunRecord struct {
	ID         uuid.UUID `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	JobName    string    `json:"jobName"`
	Success    bool      `json:"success"`
	StatusCode int       `json:"statusCode"`
	Body       string    `json:"body,omitempty"`
	Attempt    int       `json:"attempt"`
	DurationMs int64     `json:"durationMs"`
}

func NewRunRecord(jobName string, at time.Time) *RunRecord {
	return &RunRecord{
		ID:        uuid.Must(uuid.NewV4()),
		Timestamp: at,
		JobName:   jobName,
	}
}
