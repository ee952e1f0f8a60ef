package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

var (
	// ErrUnregisteredPacket is returned when encoding a message that has no ID in
	// the current state and direction. It is fatal for the caller.
	ErrUnregisteredPacket = errors.New("protocol: unregistered packet")
	// ErrUnknownPacket is returned when decoding an ID with no registered message.
	ErrUnknownPacket = errors.New("protocol: unknown packet id")
	// ErrTrailingData is returned when a packet body is longer than its fields.
	ErrTrailingData = errors.New("protocol: trailing data after packet")
)

type tableKey struct {
	state State
	dir   Direction
}

type table struct {
	ids   map[Kind]int32
	kinds map[int32]func() Message
}

// Registry maps (state, direction, kind) to packet IDs and back.
// It is filled once by NewRegistry and never modified afterwards, so it is
// safe for concurrent use.
type Registry struct {
	tables map[tableKey]*table
}

// NewRegistry builds the protocol 47 packet table.
func NewRegistry() *Registry {
	r := &Registry{tables: make(map[tableKey]*table)}

	r.register(StateHandshaking, Serverbound, 0x00, func() Message { return &Handshake{} })

	r.register(StateStatus, Serverbound, 0x00, func() Message { return &StatusRequest{} })
	r.register(StateStatus, Serverbound, 0x01, func() Message { return &StatusPing{} })
	r.register(StateStatus, Clientbound, 0x00, func() Message { return &StatusResponse{} })
	r.register(StateStatus, Clientbound, 0x01, func() Message { return &StatusPong{} })

	r.register(StateLogin, Serverbound, 0x00, func() Message { return &LoginStart{} })
	r.register(StateLogin, Serverbound, 0x01, func() Message { return &EncryptionResponse{} })
	r.register(StateLogin, Clientbound, 0x00, func() Message { return &LoginDisconnect{} })
	r.register(StateLogin, Clientbound, 0x01, func() Message { return &EncryptionRequest{} })
	r.register(StateLogin, Clientbound, 0x02, func() Message { return &LoginSuccess{} })
	r.register(StateLogin, Clientbound, 0x03, func() Message { return &SetCompression{} })

	r.register(StatePlay, Serverbound, 0x00, func() Message { return &KeepAlive{} })
	r.register(StatePlay, Serverbound, 0x01, func() Message { return &ClientChat{} })
	r.register(StatePlay, Serverbound, 0x03, func() Message { return &PlayerGround{} })
	r.register(StatePlay, Serverbound, 0x04, func() Message { return &PlayerPosition{} })
	r.register(StatePlay, Serverbound, 0x05, func() Message { return &PlayerLook{} })
	r.register(StatePlay, Serverbound, 0x06, func() Message { return &PlayerPositionLook{} })
	r.register(StatePlay, Serverbound, 0x15, func() Message { return &ClientSettings{} })

	r.register(StatePlay, Clientbound, 0x00, func() Message { return &KeepAlive{} })
	r.register(StatePlay, Clientbound, 0x01, func() Message { return &JoinGame{} })
	r.register(StatePlay, Clientbound, 0x02, func() Message { return &ChatMessage{} })
	r.register(StatePlay, Clientbound, 0x05, func() Message { return &SpawnPosition{} })
	r.register(StatePlay, Clientbound, 0x08, func() Message { return &PositionLook{} })
	r.register(StatePlay, Clientbound, 0x21, func() Message { return &ChunkData{} })
	r.register(StatePlay, Clientbound, 0x40, func() Message { return &Disconnect{} })

	return r
}

func (r *Registry) register(state State, dir Direction, id int32, ctor func() Message) {
	key := tableKey{state, dir}
	t := r.tables[key]
	if t == nil {
		t = &table{ids: make(map[Kind]int32), kinds: make(map[int32]func() Message)}
		r.tables[key] = t
	}
	kind := ctor().Kind()
	if _, dup := t.ids[kind]; dup {
		panic(fmt.Sprintf("protocol: %s registered twice in %s/%s", kind, state, dir))
	}
	if _, dup := t.kinds[id]; dup {
		panic(fmt.Sprintf("protocol: id 0x%02x registered twice in %s/%s", id, state, dir))
	}
	t.ids[kind] = id
	t.kinds[id] = ctor
}

// ID returns the packet ID of kind in the given state and direction.
func (r *Registry) ID(state State, dir Direction, kind Kind) (int32, bool) {
	t := r.tables[tableKey{state, dir}]
	if t == nil {
		return 0, false
	}
	id, ok := t.ids[kind]
	return id, ok
}

// Encode serialises msg into a raw packet.
func (r *Registry) Encode(state State, dir Direction, msg Message) (*Packet, error) {
	id, ok := r.ID(state, dir, msg.Kind())
	if !ok {
		return nil, fmt.Errorf("%w: %s in %s/%s", ErrUnregisteredPacket, msg.Kind(), state, dir)
	}
	var buf bytes.Buffer
	if err := msg.Encode(&buf); err != nil {
		return nil, fmt.Errorf("encode %s: %w", msg.Kind(), err)
	}
	return &Packet{ID: id, Data: buf.Bytes()}, nil
}

// Decode parses a raw packet into its typed message.
func (r *Registry) Decode(state State, dir Direction, p *Packet) (Message, error) {
	t := r.tables[tableKey{state, dir}]
	if t == nil {
		return nil, fmt.Errorf("%w: 0x%02x in %s/%s", ErrUnknownPacket, p.ID, state, dir)
	}
	ctor, ok := t.kinds[p.ID]
	if !ok {
		return nil, fmt.Errorf("%w: 0x%02x in %s/%s", ErrUnknownPacket, p.ID, state, dir)
	}
	msg := ctor()
	rd := bytes.NewReader(p.Data)
	if err := msg.Decode(rd); err != nil {
		return nil, fmt.Errorf("decode %s: %w", msg.Kind(), truncated(err))
	}
	if rd.Len() != 0 {
		return nil, fmt.Errorf("decode %s: %w (%d bytes)", msg.Kind(), ErrTrailingData, rd.Len())
	}
	return msg, nil
}

func truncated(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrTruncatedPacket
	}
	return err
}
