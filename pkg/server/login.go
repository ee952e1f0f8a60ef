package server

import (
	"bytes"
	"crypto/md5"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"fmt"
	"regexp"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/StoreStation/AnvilCraft/pkg/chat"
	"github.com/StoreStation/AnvilCraft/pkg/protocol"
)

var (
	// ErrVerifyTokenMismatch means the client echoed a different verify token.
	ErrVerifyTokenMismatch = errors.New("server: verify token mismatch")
	// ErrLoginRejected means the server refused the login with a disconnect.
	ErrLoginRejected = errors.New("server: login rejected")
)

var validUsername = regexp.MustCompile(`^[A-Za-z0-9_]{1,16}$`)

// offlineUUID derives the UUID an offline-mode server assigns to username:
// MD5 of "OfflinePlayer:<name>" stamped as a version 3 RFC 4122 UUID.
func offlineUUID(username string) uuid.UUID {
	sum := md5.Sum([]byte("OfflinePlayer:" + username))
	sum[6] = (sum[6] & 0x0F) | 0x30
	sum[8] = (sum[8] & 0x3F) | 0x80
	return uuid.UUID(sum)
}

// rejectLogin sends a login disconnect and reports ErrLoginRejected.
func (s *Server) rejectLogin(sess *session, reason string) error {
	s.send(sess, &protocol.LoginDisconnect{Reason: chat.Text(reason).String()})
	return fmt.Errorf("%w: %s", ErrLoginRejected, reason)
}

func (s *Server) handleLoginStart(sess *session, start *protocol.LoginStart) (*Player, error) {
	username := start.Name
	sess.log = sess.log.With(zap.String("username", username))
	sess.log.Info("player is logging in")

	switch {
	case sess.version != protocol.ProtocolVersion:
		return nil, s.rejectLogin(sess, fmt.Sprintf("Outdated client! Please use %s", protocol.GameVersion))
	case !validUsername.MatchString(username):
		return nil, s.rejectLogin(sess, "Invalid username")
	case s.playerCount() >= s.config.Server.MaxPlayers:
		return nil, s.rejectLogin(sess, "The server is full!")
	}

	if s.key != nil {
		if err := s.negotiateEncryption(sess); err != nil {
			return nil, err
		}
	}

	if threshold := s.config.Network.CompressionThreshold; threshold >= 0 {
		if err := s.send(sess, &protocol.SetCompression{Threshold: int32(threshold)}); err != nil {
			return nil, err
		}
		sess.conn.SetThreshold(threshold)
	}

	id := offlineUUID(username)
	if err := s.send(sess, &protocol.LoginSuccess{UUID: id.String(), Username: username}); err != nil {
		return nil, err
	}
	next, err := sess.state.Transition(protocol.StatePlay)
	if err != nil {
		return nil, err
	}
	sess.state = next

	player, err := s.addPlayer(sess, username, id)
	if err != nil {
		return nil, err
	}
	return player, nil
}

// negotiateEncryption runs the RSA key exchange and switches the connection
// to AES/CFB8. The session is not checked against an authentication server.
func (s *Server) negotiateEncryption(sess *session) error {
	token := make([]byte, 4)
	if _, err := rand.Read(token); err != nil {
		return err
	}
	req := &protocol.EncryptionRequest{ServerID: "", PublicKey: s.publicKey, VerifyToken: token}
	if err := s.send(sess, req); err != nil {
		return err
	}

	msg, err := s.readMessage(sess)
	if err != nil {
		return err
	}
	resp, ok := msg.(*protocol.EncryptionResponse)
	if !ok {
		return fmt.Errorf("expected %s, got %s", protocol.KindEncryptionResponse, msg.Kind())
	}

	secret, err := rsa.DecryptPKCS1v15(rand.Reader, s.key, resp.SharedSecret)
	if err != nil {
		return fmt.Errorf("decrypt shared secret: %w", err)
	}
	echoed, err := rsa.DecryptPKCS1v15(rand.Reader, s.key, resp.VerifyToken)
	if err != nil {
		return fmt.Errorf("decrypt verify token: %w", err)
	}
	if !bytes.Equal(echoed, token) {
		return ErrVerifyTokenMismatch
	}
	if err := sess.conn.EnableEncryption(secret); err != nil {
		return err
	}
	sess.log.Debug("encryption enabled")
	return nil
}
