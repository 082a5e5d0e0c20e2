package dealer

import (
	"fmt"
	"strings"
)

// Action names the terminal state a received message is moved to.
type Action int

const (
	ActionComplete Action = iota + 1
	ActionAbandon
	ActionDefer
	ActionDeadLetter
)

func (a Action) String() string {
	switch a {
	case ActionComplete:
		return "complete"
	case ActionAbandon:
		return "abandon"
	case ActionDefer:
		return "defer"
	case ActionDeadLetter:
		return "deadletter"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// ParseAction accepts the names produced by Action.String plus the
// "dead-letter" and "dead_letter" spellings.
func ParseAction(s string) (Action, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "complete":
		return ActionComplete, nil
	case "abandon":
		return ActionAbandon, nil
	case "defer":
		return ActionDefer, nil
	case "deadletter", "dead-letter", "dead_letter":
		return ActionDeadLetter, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownDisposition, s)
	}
}

// Disposition is applied once to a received message. The set of
// implementations is closed: Complete, Abandon, Defer and DeadLetter.
type Disposition interface {
	Action() Action
	disposition()
}

// Complete acknowledges the message and removes it from the queue.
type Complete struct{}

// Abandon releases the lock so the message is redelivered.
type Abandon struct{}

// Defer sets the message aside until it is fetched by sequence number.
type Defer struct{}

// DeadLetter moves the message to the dead-letter sub-queue.
// Both fields must be non-empty or the disposition is skipped.
type DeadLetter struct {
	Reason      string
	Description string
}

func (Complete) Action() Action   { return ActionComplete }
func (Abandon) Action() Action    { return ActionAbandon }
func (Defer) Action() Action      { return ActionDefer }
func (DeadLetter) Action() Action { return ActionDeadLetter }

func (Complete) disposition()   {}
func (Abandon) disposition()    {}
func (Defer) disposition()      {}
func (DeadLetter) disposition() {}

// annotated reports whether both reason and description are set.
func (d DeadLetter) annotated() bool {
	return d.Reason != "" && d.Description != ""
}

// ParseDisposition builds a Disposition from its textual action. Reason and
// description are only used for dead-lettering.
func ParseDisposition(action, reason, description string) (Disposition, error) {
	a, err := ParseAction(action)
	if err != nil {
		return nil, err
	}

	switch a {
	case ActionComplete:
		return Complete{}, nil
	case ActionAbandon:
		return Abandon{}, nil
	case ActionDefer:
		return Defer{}, nil
	default:
		return DeadLetter{Reason: reason, Description: description}, nil
	}
}

// Settlement describes a message that HandleMessage received and settled.
type Settlement struct {
	MessageID      string
	SequenceNumber int64
	DeliveryCount  uint32
	Body           string
	Action         Action
}
