package library

// Library is the registry handed to applications: every service wired
// against one store and one keyring.
type Library interface {
	Jobs() Jobs
	Scheduler() Scheduler
	Receiver() Receiver
	Codec() Codec
	Store() Store
	Close() error
}
