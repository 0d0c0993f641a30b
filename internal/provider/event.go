package provider

// EventKind classifies a provider event.
type EventKind int

const (
	// EventUnrecognized is any variant the adapter could not classify.
	EventUnrecognized EventKind = iota
	EventUnreadMessageCountChanged
	EventAuthenticationFailed
	EventFieldValidationFailed
)

func (k EventKind) String() string {
	switch k {
	case EventUnreadMessageCountChanged:
		return "unreadMessageCountChanged"
	case EventAuthenticationFailed:
		return "authenticationFailed"
	case EventFieldValidationFailed:
		return "fieldValidationFailed"
	default:
		return "unrecognized"
	}
}

// Event is a provider event after translation from the native shape.
type Event struct {
	Kind EventKind
	// UnreadCount is set by platforms that carry the count in the event.
	// When nil the count must be re-queried.
	UnreadCount *int
	// Err is the failure description for AuthenticationFailed and
	// FieldValidationFailed, if the platform supplied one.
	Err error
	// Variant is the native variant name, used to describe unrecognized
	// events.
	Variant string
}

// UnreadCountChanged builds an unread-count event carrying count.
func UnreadCountChanged(count int) Event {
	return Event{Kind: EventUnreadMessageCountChanged, UnreadCount: &count}
}
