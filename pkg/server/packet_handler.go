package server

import (
	"context"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/StoreStation/AnvilCraft/pkg/chat"
	"github.com/StoreStation/AnvilCraft/pkg/protocol"
)

// maxChatLength is the longest chat line a 1.8 client may send.
const maxChatLength = 100

// tickPlayers applies every player's queued packets. At most one queue's
// worth is taken per player per tick.
func (s *Server) tickPlayers(_ context.Context, _ uint64) error {
	for _, p := range s.snapshotPlayers() {
		for i := 0; i < cap(p.inbound); i++ {
			msg, ok := p.next()
			if !ok {
				break
			}
			s.handlePlayMessage(p, msg)
		}
	}
	return nil
}

func (s *Server) handlePlayMessage(player *Player, msg protocol.Message) {
	switch m := msg.(type) {
	case *protocol.KeepAlive:
		// Liveness is tracked by the read deadline.

	case *protocol.ClientChat:
		message := strings.TrimSpace(m.Message)
		if message == "" {
			return
		}
		if utf8.RuneCountInString(message) > maxChatLength {
			message = string([]rune(message)[:maxChatLength])
		}
		player.log.Info("chat", zap.String("message", message))
		s.broadcastChat(chat.Player(player.Username, message))

	case *protocol.PlayerGround:
		player.mu.Lock()
		player.OnGround = m.OnGround
		player.mu.Unlock()

	case *protocol.PlayerPosition:
		player.mu.Lock()
		player.X, player.Y, player.Z = m.X, m.Y, m.Z
		player.OnGround = m.OnGround
		player.mu.Unlock()
		s.updateChunks(player)

	case *protocol.PlayerLook:
		player.mu.Lock()
		player.Yaw, player.Pitch = m.Yaw, m.Pitch
		player.OnGround = m.OnGround
		player.mu.Unlock()

	case *protocol.PlayerPositionLook:
		player.mu.Lock()
		player.X, player.Y, player.Z = m.X, m.Y, m.Z
		player.Yaw, player.Pitch = m.Yaw, m.Pitch
		player.OnGround = m.OnGround
		player.mu.Unlock()
		s.updateChunks(player)

	case *protocol.ClientSettings:
		vd := min(max(int(m.ViewDistance), 1), s.config.World.ViewDistance)
		player.mu.Lock()
		changed := vd != player.viewDistance
		player.viewDistance = vd
		if changed {
			player.centered = false
		}
		player.mu.Unlock()
		if changed {
			s.updateChunks(player)
		}
	}
}

func (s *Server) broadcastChat(msg chat.Message) {
	out := &protocol.ChatMessage{JSON: msg.String(), Position: protocol.ChatPositionChat}
	for _, p := range s.snapshotPlayers() {
		if err := p.Send(out); err != nil {
			p.log.Debug("chat not delivered", zap.Error(err))
		}
	}
}
