package protocol

import (
	"errors"
	"fmt"
)

// ProtocolVersion is the protocol number of Minecraft 1.8.x.
const ProtocolVersion = 47

// GameVersion is the human-readable version reported in status responses.
const GameVersion = "1.8.9"

// State is a connection phase. Each phase has its own packet ID space.
type State int

// Connection states. Values match the "next state" field of the handshake.
const (
	StateHandshaking State = 0
	StateStatus      State = 1
	StateLogin       State = 2
	StatePlay        State = 3
)

func (s State) String() string {
	switch s {
	case StateHandshaking:
		return "handshaking"
	case StateStatus:
		return "status"
	case StateLogin:
		return "login"
	case StatePlay:
		return "play"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ErrIllegalTransition is returned when a connection tries to re-enter or skip a phase.
var ErrIllegalTransition = errors.New("protocol: illegal state transition")

// Transition validates a phase change. Progression is monotonic:
// handshaking may move to status or login, login may move to play, and
// nothing else is allowed.
func (s State) Transition(next State) (State, error) {
	switch {
	case s == StateHandshaking && (next == StateStatus || next == StateLogin):
		return next, nil
	case s == StateLogin && next == StatePlay:
		return next, nil
	}
	return s, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, s, next)
}

// Direction says which side sends a packet.
type Direction int

const (
	Serverbound Direction = iota
	Clientbound
)

func (d Direction) String() string {
	if d == Clientbound {
		return "clientbound"
	}
	return "serverbound"
}

// Flip returns the opposite direction.
func (d Direction) Flip() Direction {
	if d == Clientbound {
		return Serverbound
	}
	return Clientbound
}
