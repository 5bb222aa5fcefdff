package udp

import (
	"fmt"

	"github.com/treemana/koala/reactor"
)

type EventKind uint8

const (
	ServerReadable EventKind = iota
	ServerWritable
	TransactionEvent
	TimeoutEvent
	ControlEvent
)

func (k EventKind) String() string {
	switch k {
	case ServerReadable:
		return "server-readable"
	case ServerWritable:
		return "server-writable"
	case TransactionEvent:
		return "transaction"
	case TimeoutEvent:
		return "timeout"
	case ControlEvent:
		return "control"
	default:
		return fmt.Sprintf("event(%d)", uint8(k))
	}
}

// Event is one notification of the loop, as the server dispatches it.
type Event struct {
	Kind  EventKind
	Token reactor.Token
	Ready reactor.Ready
	Msg   interface{} // ControlEvent only
}

func (e Event) String() string {
	switch e.Kind {
	case TransactionEvent:
		return fmt.Sprintf("%s token=%d %s", e.Kind, e.Token, e.Ready)
	case TimeoutEvent:
		return fmt.Sprintf("%s token=%d", e.Kind, e.Token)
	case ControlEvent:
		return fmt.Sprintf("%s %v", e.Kind, e.Msg)
	default:
		return e.Kind.String()
	}
}
