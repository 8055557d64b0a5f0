package core

import "time"

type RetryMode int

const (
	None RetryMode = iota // store operations are attempted once
	// Backoff retries transient store failures with exponential backoff,
	// bounded by the configured maximum elapsed time. It never applies to
	// job dispatch: dispatch retries are the scheduler's fixed-delay policy.
	Backoff
)

const (
	Version   = "1.0.0"
	UserAgent = "hookcron-go/" + Version

	DefaultMethod          = "POST"
	DefaultPollInterval    = time.Second
	DefaultBatchSize       = 10
	DefaultDispatchTimeout = 15 * time.Second
	DefaultRetryDelay      = 3 * time.Second
	DefaultRetries         = 3
	DefaultRetryMaxTime    = 30 * time.Second
	DefaultStorePrefix     = "hookcron"
	DefaultListenAddr      = ":8080"

	// MaxRunBodyLength bounds the response or error text kept in a run record.
	MaxRunBodyLength = 1024
	// MaxResponseRead bounds how much of a dispatch response is read.
	MaxResponseRead = 64 << 10
	DefaultRunsLimit = 50
)

// Synthetic status codes recorded when no HTTP status is available.
const (
	StatusTransportError = -1
	StatusTimeout        = -2
	StatusInvalidRequest = -3
)

// Headers added to every dispatched request.
const (
	HeaderJob       = "X-Hookcron-Job"
	HeaderAttempt   = "X-Hookcron-Attempt"
	HeaderOperation = "X-Hookcron-Operation"
)
