package session

import "github.com/Ning0612/pubsync/internal/domain"

// Event is a change in session state, delivered after the state is updated.
// The implementations are the types below.
type Event interface {
	isEvent()
}

// Listener receives events. It may be called from scan and transfer
// goroutines and must not block.
type Listener func(Event)

// PhaseChanged reports a state machine transition
type PhaseChanged struct {
	From, To Phase
}

// Cleared reports that the working set was emptied
type Cleared struct{}

// ItemsAppended reports items added to the end of the working set
type ItemsAppended struct {
	Items []domain.Item
}

// ItemRemoved reports an item dropped from the working set
type ItemRemoved struct {
	Item domain.Item
}

// ItemUpdated reports a change to an item's type, selection or transfer state
type ItemUpdated struct {
	Item domain.Item
}

// Progress relays scan and transfer progress
type Progress struct {
	Label   string
	Percent int
}

// Logged reports a LogItem appended to the working set
type Logged struct {
	Item *domain.LogItem
}

func (PhaseChanged) isEvent()  {}
func (Cleared) isEvent()       {}
func (ItemsAppended) isEvent() {}
func (ItemRemoved) isEvent()   {}
func (ItemUpdated) isEvent()   {}
func (Progress) isEvent()      {}
func (Logged) isEvent()        {}

// queue collects events while the session lock is held
type queue struct {
	events []Event
}

func (q *queue) add(e Event) {
	q.events = append(q.events, e)
}
