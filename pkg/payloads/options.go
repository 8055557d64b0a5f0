package payloads

import (
	"encoding/json"
	"time"
)

// EnqueueOptions configures a new or replaced job. Zero values fall back to
// the service defaults.
type EnqueueOptions struct {
	Endpoint string     `json:"endpoint,omitempty"`
	Method   string     `json:"method,omitempty"`
	Retries  *int       `json:"retries,omitempty"`
	RunAt    *time.Time `json:"runAt,omitempty"`
	RunEvery string     `json:"runEvery,omitempty"`
	Timezone string     `json:"timezone,omitempty"`
	Headers  []Header   `json:"headers,omitempty"`
	Enabled  *bool      `json:"enabled,omitempty"`
}

// UpdateOptions patches an existing job. Nil fields are left untouched.
// Payload is re-sealed when set. Rearm forces the schedule back to RunAt.
type UpdateOptions struct {
	Payload  json.RawMessage `json:"payload,omitempty"`
	Endpoint *string         `json:"endpoint,omitempty"`
	Method   *string         `json:"method,omitempty"`
	Retries  *int            `json:"retries,omitempty"`
	RunAt    *time.Time      `json:"runAt,omitempty"`
	RunEvery *string         `json:"runEvery,omitempty"`
	Timezone *string         `json:"timezone,omitempty"`
	Headers  *[]Header       `json:"headers,omitempty"`
	Enabled  *bool           `json:"enabled,omitempty"`
	Rearm    bool            `json:"rearm,omitempty"`
}
