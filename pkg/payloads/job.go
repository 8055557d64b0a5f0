package payloads

import (
	"strings"
	"time"

	"github.com/gofrs/uuid"
)

// Header is a single outbound header. Jobs keep headers as an ordered list
// so the request is assembled in the order the caller gave.
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Schedule is the transient scheduling state of a job. A nil Next means the
// job is not due and not currently claimable.
type Schedule struct {
	Next    *time.Time `json:"next,omitempty"`
	Attempt int        `json:"attempt"`
}

// Due reports whether the schedule is claimable at now.
func (s *Schedule) Due(now time.Time) bool {
	return s != nil && s.Next != nil && !s.Next.After(now)
}

type Job struct {
	Name     string    `json:"name"`
	Endpoint string    `json:"endpoint"`
	Method   string    `json:"method"`
	Headers  []Header  `json:"headers"`
	Body     string    `json:"body"`
	Enabled  bool      `json:"enabled"`
	Retries  int       `json:"retries"`
	RunAt    time.Time `json:"runAt"`
	RunEvery string    `json:"runEvery,omitempty"`
	Timezone string    `json:"timezone,omitempty"`
	Schedule *Schedule `json:"schedule,omitempty"`
	// ArmID identifies the arming that produced Schedule. Stores replace it
	// on every UpsertJob, and SaveJob only writes back while it is unchanged.
	ArmID string `json:"armId,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewArmID returns a fresh arming token.
func NewArmID() string {
	return uuid.Must(uuid.NewV4()).String()
}

// Recurring reports whether a successful run reschedules the job.
func (j *Job) Recurring() bool {
	return strings.TrimSpace(j.RunEvery) != ""
}

// Attempt returns the current attempt, zero when no schedule is set.
func (j *Job) Attempt() int {
	if j.Schedule == nil {
		return 0
	}
	return j.Schedule.Attempt
}

// Clone returns a deep copy so stores never share mutable state with
// callers.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	out := *j
	if j.Headers != nil {
		out.Headers = make([]Header, len(j.Headers))
		copy(out.Headers, j.Headers)
	}
	if j.Schedule != nil {
		sched := *j.Schedule
		if j.Schedule.Next != nil {
			next := *j.Schedule.Next
			sched.Next = &next
		}
		out.Schedule = &sched
	}
	return &out
}

// ScheduleAt builds a schedule due at t.
func ScheduleAt(t time.Time, attempt int) *Schedule {
	next := t
	return &Schedule{Next: &next, Attempt: attempt}
}
