package lifecycle

// Event is a lifecycle event: name + model ID and optional fields.
type Event struct {
	Name    string
	ModelID string
	Fields  map[string]any
}

// Event names.
const (
	EventLoadStart     = "load_start"
	EventLoadSkip      = "load_skip"
	EventLoadDone      = "load_done"
	EventLoadFailed    = "load_failed"
	EventUnloadStart   = "unload_start"
	EventUnloadDone    = "unload_done"
	EventTeardownError = "teardown_error"
)

// EventPublisher receives events from the manager. Implementations should be
// lightweight and non-blocking; Publish must not panic.
type EventPublisher interface {
	Publish(Event)
}

// noopPublisher is the default; it drops events.
type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}
