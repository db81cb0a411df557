// Package events carries runtime lifecycle notifications: a typed kind
// enum, an in-process bus for host subscribers, and a journal writer that
// appends every notification to sqlite for audit and webhook delivery.
package events

// Kind is the closed set of lifecycle notification types.
type Kind string

const (
	RuntimeInitialized Kind = "runtime:initialized"
	RuntimeShutdown    Kind = "runtime:shutdown"

	PlaybookStarted   Kind = "playbook:started"
	PlaybookCompleted Kind = "playbook:completed"
	PlaybookFailed    Kind = "playbook:failed"
	PlaybookPaused    Kind = "playbook:paused"
	PlaybookResumed   Kind = "playbook:resumed"
	PlaybookCancelled Kind = "playbook:cancelled"

	StepStarted   Kind = "step:started"
	StepCompleted Kind = "step:completed"

	ResourcesAllocated Kind = "resources:allocated"
	ResourcesReleased  Kind = "resources:released"
	ResourcesReserved  Kind = "resources:reserved"
	ReservationExpired Kind = "reservation:expired"

	CapabilitiesResolved Kind = "capabilities:resolved"

	ConfigUpdated Kind = "config:updated"
)

// Notification is one published lifecycle event. Payload carries the
// relevant record and must be JSON-marshalable.
type Notification struct {
	Kind       Kind
	EntityKind string
	EntityID   string
	Payload    any
}
