package server

import (
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/StoreStation/AnvilCraft/pkg/chat"
	"github.com/StoreStation/AnvilCraft/pkg/chunk"
	"github.com/StoreStation/AnvilCraft/pkg/codec"
	"github.com/StoreStation/AnvilCraft/pkg/protocol"
)

// Player represents a connected player.
type Player struct {
	EntityID int32
	Username string
	UUID     uuid.UUID

	srv  *Server
	conn *codec.Conn
	log  *zap.Logger

	// inbound carries decoded play packets from the reader to the tick loop.
	inbound chan protocol.Message
	// chunks carries loaded chunk positions to the chunk sender.
	chunks    chan chunk.Pos
	done      chan struct{}
	closeOnce sync.Once

	mu           sync.Mutex
	X, Y, Z      float64
	Yaw, Pitch   float32
	OnGround     bool
	viewDistance int
	center       chunk.Pos
	centered     bool
	loaded       map[chunk.Pos]bool
}

// addPlayer registers a logged-in player. Earlier sessions with the same
// UUID are kicked once the player table is unlocked.
func (s *Server) addPlayer(sess *session, username string, id uuid.UUID) (*Player, error) {
	s.mu.Lock()
	var duplicates []*Player
	for _, other := range s.players {
		if other.UUID == id {
			duplicates = append(duplicates, other)
		}
	}
	if len(s.players) >= s.config.Server.MaxPlayers {
		s.mu.Unlock()
		s.send(sess, &protocol.Disconnect{Reason: chat.Text("The server is full!").String()})
		return nil, ErrLoginRejected
	}

	eid := s.nextEID
	s.nextEID++
	vd := s.config.World.ViewDistance
	p := &Player{
		EntityID:     eid,
		Username:     username,
		UUID:         id,
		srv:          s,
		conn:         sess.conn,
		log:          sess.log.With(zap.Int32("eid", eid)),
		inbound:      make(chan protocol.Message, s.config.Network.InboundQueue),
		chunks:       make(chan chunk.Pos, (2*vd+1)*(2*vd+1)),
		done:         make(chan struct{}),
		viewDistance: vd,
		loaded:       make(map[chunk.Pos]bool),
		OnGround:     true,
	}
	s.players[eid] = p
	s.mu.Unlock()

	for _, other := range duplicates {
		other.kick("You logged in from another location")
	}
	return p, nil
}

func (s *Server) removePlayer(p *Player) {
	s.mu.Lock()
	delete(s.players, p.EntityID)
	s.mu.Unlock()
	p.close()
	s.broadcastChat(chat.Colored(p.Username+" left the game", "yellow"))
	p.log.Info("player disconnected")
}

// Send encodes msg as a play packet and writes it.
func (p *Player) Send(msg protocol.Message) error {
	pkt, err := p.srv.registry.Encode(protocol.StatePlay, protocol.Clientbound, msg)
	if err != nil {
		return err
	}
	p.conn.SetWriteDeadline(time.Now().Add(p.srv.config.Network.ReadTimeout))
	return p.conn.WritePacket(pkt)
}

// kick sends a disconnect reason and closes the connection.
func (p *Player) kick(reason string) {
	if err := p.Send(&protocol.Disconnect{Reason: chat.Text(reason).String()}); err != nil {
		p.log.Debug("disconnect not delivered", zap.Error(err))
	}
	p.log.Info("kicked", zap.String("reason", reason))
	p.close()
}

func (p *Player) close() {
	p.closeOnce.Do(func() {
		close(p.done)
		p.conn.Close()
	})
}

// enqueue hands msg to the tick loop. It reports false when the player has
// more packets waiting than the inbound queue holds.
func (p *Player) enqueue(msg protocol.Message) bool {
	select {
	case p.inbound <- msg:
		return true
	default:
		return false
	}
}

// next returns a waiting inbound packet without blocking.
func (p *Player) next() (protocol.Message, bool) {
	select {
	case msg := <-p.inbound:
		return msg, true
	default:
		return nil, false
	}
}

func (p *Player) keepAliveLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			if err := p.Send(&protocol.KeepAlive{ID: rand.Int32()}); err != nil {
				p.log.Debug("keep-alive failed", zap.Error(err))
				p.close()
				return
			}
		}
	}
}

// handlePlay sends the join sequence, then reads play packets until the
// connection ends. Packets are applied by the tick loop, not here.
func (s *Server) handlePlay(p *Player) {
	defer s.removePlayer(p)

	if err := s.joinGame(p); err != nil {
		p.log.Warn("join failed", zap.Error(err))
		return
	}
	go p.keepAliveLoop(s.config.Network.KeepAliveInterval)
	go s.chunkSender(p)

	s.broadcastChat(chat.Colored(p.Username+" joined the game", "yellow"))
	p.log.Info("player joined the game")

	for {
		p.conn.SetReadDeadline(time.Now().Add(s.config.Network.ReadTimeout))
		pkt, err := p.conn.ReadPacket()
		if err != nil {
			p.log.Debug("read failed", zap.Error(err))
			return
		}
		msg, err := s.registry.Decode(protocol.StatePlay, protocol.Serverbound, pkt)
		if err != nil {
			if errors.Is(err, protocol.ErrUnknownPacket) {
				continue
			}
			p.log.Warn("malformed packet", zap.Error(err))
			return
		}
		if !p.enqueue(msg) {
			p.log.Warn("inbound queue overflow", zap.Int("capacity", cap(p.inbound)))
			p.kick("Overloaded")
			return
		}
	}
}

func (s *Server) joinGame(p *Player) error {
	spawn := s.world.Spawn
	p.mu.Lock()
	p.X, p.Y, p.Z = float64(spawn.X)+0.5, float64(spawn.Y), float64(spawn.Z)+0.5
	x, y, z := p.X, p.Y, p.Z
	p.mu.Unlock()

	levelType := "default"
	if s.config.World.Generator == "flat" {
		levelType = "flat"
	}
	msgs := []protocol.Message{
		&protocol.JoinGame{
			EntityID:   p.EntityID,
			GameMode:   0,
			Dimension:  0,
			Difficulty: 1,
			MaxPlayers: byte(min(s.config.Server.MaxPlayers, 255)),
			LevelType:  levelType,
		},
		&protocol.SpawnPosition{X: spawn.X, Y: spawn.Y, Z: spawn.Z},
		&protocol.PositionLook{X: x, Y: y, Z: z},
	}
	for _, msg := range msgs {
		if err := p.Send(msg); err != nil {
			return err
		}
	}
	s.updateChunks(p)
	return nil
}
