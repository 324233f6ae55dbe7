package analytics

import "sync"

// EventPageview is the Plausible event name for page views.
const EventPageview = "pageview"

// Event is the body of a Plausible event API call. Domain is owned by the
// Dispatcher and overwritten right before sending.
type Event struct {
	Name   string         `json:"name"`
	URL    string         `json:"url"`
	Props  map[string]any `json:"props,omitempty"`
	Domain string         `json:"domain,omitempty"`
}

// NewPageview returns a pageview event for url.
func NewPageview(url string, props map[string]any) Event {
	return Event{Name: EventPageview, URL: url, Props: props}
}

// Policy decides whether a render outcome is reported.
type Policy int

const (
	// OnSuccess reports only renders that produced an artifact.
	OnSuccess Policy = iota
	// Always reports every completed render attempt, including failures.
	Always
)

// ShouldDispatch reports whether an outcome is reported under p.
func (p Policy) ShouldDispatch(success bool) bool {
	return p == Always || success
}

func (p Policy) String() string {
	if p == Always {
		return "always"
	}
	return "on_success"
}

// Task is the handle of one background delivery.
type Task struct {
	done chan struct{}
	err  error
}

func newTask() *Task {
	return &Task{done: make(chan struct{})}
}

// Done is closed when the delivery attempt finished.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Err returns the delivery error. It is only meaningful after Done is closed.
func (t *Task) Err() error {
	<-t.done
	return t.err
}

func (t *Task) finish(err error) {
	t.err = err
	close(t.done)
}

// Slot holds at most one outstanding Task. A new dispatch replaces the stored
// handle; it never queues behind the previous one.
type Slot struct {
	mu   sync.Mutex
	task *Task
}

// NewSlot returns an empty Slot.
func NewSlot() *Slot {
	return &Slot{}
}

// Current returns the most recently stored task, or nil.
func (s *Slot) Current() *Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.task
}
