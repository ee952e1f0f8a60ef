package server

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"errors"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/StoreStation/AnvilCraft/pkg/chat"
	"github.com/StoreStation/AnvilCraft/pkg/chunk"
	"github.com/StoreStation/AnvilCraft/pkg/codec"
	"github.com/StoreStation/AnvilCraft/pkg/config"
	"github.com/StoreStation/AnvilCraft/pkg/protocol"
	"github.com/StoreStation/AnvilCraft/pkg/region"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Server.Address = "127.0.0.1:0"
	cfg.Server.MOTD = "Test Server"
	cfg.Storage.Dir = t.TempDir()
	cfg.Storage.SaveInterval = 0
	cfg.World.Generator = "flat"
	cfg.World.ViewDistance = 1
	cfg.Network.CompressionThreshold = 64
	cfg.Log.Level = "debug"
	return cfg
}

func startServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	srv, err := New(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	t.Cleanup(func() { srv.Stop() })
	return srv
}

// client is a minimal protocol 47 client.
type client struct {
	t     *testing.T
	conn  *codec.Conn
	reg   *protocol.Registry
	state protocol.State
}

func dial(t *testing.T, srv *Server) *client {
	t.Helper()
	nc, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { nc.Close() })
	return &client{t: t, conn: codec.NewConn(nc), reg: protocol.NewRegistry()}
}

func (c *client) send(msg protocol.Message) {
	c.t.Helper()
	pkt, err := c.reg.Encode(c.state, protocol.Serverbound, msg)
	require.NoError(c.t, err)
	require.NoError(c.t, c.conn.WritePacket(pkt))
}

func (c *client) recv() protocol.Message {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	pkt, err := c.conn.ReadPacket()
	require.NoError(c.t, err)
	msg, err := c.reg.Decode(c.state, protocol.Clientbound, pkt)
	require.NoError(c.t, err)
	return msg
}

// recvKind reads until a packet of kind arrives, skipping keep-alives and
// anything else in between.
func (c *client) recvKind(kind protocol.Kind) protocol.Message {
	c.t.Helper()
	for {
		if msg := c.recv(); msg.Kind() == kind {
			return msg
		}
	}
}

func (c *client) handshake(next protocol.State) {
	c.t.Helper()
	c.send(&protocol.Handshake{
		ProtocolVersion: protocol.ProtocolVersion,
		ServerAddress:   "localhost",
		ServerPort:      25565,
		NextState:       next,
	})
	c.state = next
}

// login runs an offline login without encryption and returns the
// LoginSuccess packet.
func (c *client) login(name string) *protocol.LoginSuccess {
	c.t.Helper()
	c.handshake(protocol.StateLogin)
	c.send(&protocol.LoginStart{Name: name})
	for {
		switch m := c.recv().(type) {
		case *protocol.SetCompression:
			c.conn.SetThreshold(int(m.Threshold))
		case *protocol.LoginSuccess:
			c.state = protocol.StatePlay
			return m
		default:
			c.t.Fatalf("unexpected login packet %s", m.Kind())
		}
	}
}

func TestOfflineUUID(t *testing.T) {
	id := offlineUUID("Notch")
	assert.Equal(t, "b50ad385-829d-3141-a216-7e7d7539ba7f", id.String())
	assert.Equal(t, id, offlineUUID("Notch"))
	assert.NotEqual(t, id, offlineUUID("notch"))
	assert.EqualValues(t, 3, id.Version())
	assert.Equal(t, "RFC4122", id.Variant().String())
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.World.ViewDistance = 0
	_, err := New(cfg, nil)
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestServerStartStop(t *testing.T) {
	srv, err := New(testConfig(t), nil)
	require.NoError(t, err)
	assert.Nil(t, srv.Addr())
	require.NoError(t, srv.Start())
	assert.NotEmpty(t, srv.Addr().String())

	require.NoError(t, srv.Stop())
	select {
	case <-srv.StopChan():
	default:
		t.Fatal("StopChan not closed after Stop")
	}
	assert.NoError(t, srv.Stop(), "second Stop is a no-op")
}

func TestStatus(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.MaxPlayers = 7
	srv := startServer(t, cfg)

	c := dial(t, srv)
	c.handshake(protocol.StateStatus)
	c.send(&protocol.StatusRequest{})
	resp, ok := c.recv().(*protocol.StatusResponse)
	require.True(t, ok)

	var status statusResponse
	require.NoError(t, json.Unmarshal([]byte(resp.JSON), &status))
	assert.Equal(t, protocol.ProtocolVersion, status.Version.Protocol)
	assert.Equal(t, 7, status.Players.Max)
	assert.Equal(t, 0, status.Players.Online)
	assert.Equal(t, "Test Server", status.Description.Text)

	c.send(&protocol.StatusPing{Payload: 1234567890123})
	pong, ok := c.recv().(*protocol.StatusPong)
	require.True(t, ok)
	assert.Equal(t, int64(1234567890123), pong.Payload)
}

func TestLoginAndChunkStreaming(t *testing.T) {
	srv := startServer(t, testConfig(t))

	c := dial(t, srv)
	success := c.login("Steve")
	assert.Equal(t, "Steve", success.Username)
	assert.Equal(t, offlineUUID("Steve").String(), success.UUID)
	assert.Equal(t, 64, c.conn.Threshold())

	join, ok := c.recv().(*protocol.JoinGame)
	require.True(t, ok)
	assert.Equal(t, "flat", join.LevelType)
	spawn, ok := c.recv().(*protocol.SpawnPosition)
	require.True(t, ok)
	assert.Equal(t, protocol.SpawnPosition{X: 8, Y: 5, Z: 8}, *spawn)
	pos, ok := c.recv().(*protocol.PositionLook)
	require.True(t, ok)
	assert.Equal(t, 8.5, pos.X)

	// View distance 1 around chunk (0, 0).
	got := make(map[chunk.Pos]bool)
	for len(got) < 9 {
		cd := c.recvKind(protocol.KindChunkData).(*protocol.ChunkData)
		assert.True(t, cd.GroundUp)
		assert.Equal(t, uint16(1), cd.PrimaryBitMask, "flat world only fills section 0")
		got[chunk.Pos{X: cd.X, Z: cd.Z}] = true
	}
	for x := int32(-1); x <= 1; x++ {
		for z := int32(-1); z <= 1; z++ {
			assert.True(t, got[chunk.Pos{X: x, Z: z}], "chunk %d,%d", x, z)
		}
	}
	assert.Equal(t, 1, srv.playerCount())
}

func TestMovingStreamsAndUnloadsChunks(t *testing.T) {
	srv := startServer(t, testConfig(t))
	c := dial(t, srv)
	c.login("Walker")

	for seen := 0; seen < 9; seen++ {
		c.recvKind(protocol.KindChunkData)
	}

	// Step one chunk east: column x=2 appears, x=-1 goes away.
	c.send(&protocol.PlayerPosition{X: 24.5, Y: 5, Z: 8.5, OnGround: true})
	loaded, unloaded := map[chunk.Pos]bool{}, map[chunk.Pos]bool{}
	for len(loaded) < 3 || len(unloaded) < 3 {
		cd := c.recvKind(protocol.KindChunkData).(*protocol.ChunkData)
		pos := chunk.Pos{X: cd.X, Z: cd.Z}
		if cd.PrimaryBitMask == 0 {
			unloaded[pos] = true
		} else {
			loaded[pos] = true
		}
	}
	for z := int32(-1); z <= 1; z++ {
		assert.True(t, loaded[chunk.Pos{X: 2, Z: z}])
		assert.True(t, unloaded[chunk.Pos{X: -1, Z: z}])
	}
}

func TestChatBroadcast(t *testing.T) {
	srv := startServer(t, testConfig(t))

	alice := dial(t, srv)
	alice.login("alice")
	bob := dial(t, srv)
	bob.login("bob")

	bob.send(&protocol.ClientChat{Message: "  hello there  "})
	for _, c := range []*client{alice, bob} {
		for {
			msg := c.recvKind(protocol.KindChatMessage).(*protocol.ChatMessage)
			parsed, err := chat.Parse(msg.JSON)
			require.NoError(t, err)
			if parsed.Plain() == "<bob> hello there" {
				break
			}
		}
	}
}

func TestMaxPlayers(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.MaxPlayers = 1
	srv := startServer(t, cfg)

	first := dial(t, srv)
	first.login("first")
	require.Eventually(t, func() bool { return srv.playerCount() == 1 }, 5*time.Second, 10*time.Millisecond)

	second := dial(t, srv)
	second.handshake(protocol.StateLogin)
	second.send(&protocol.LoginStart{Name: "second"})
	dc, ok := second.recv().(*protocol.LoginDisconnect)
	require.True(t, ok)
	reason, err := chat.Parse(dc.Reason)
	require.NoError(t, err)
	assert.Contains(t, reason.Plain(), "full")
}

func TestDuplicateLoginKicksOutsidePlayerLock(t *testing.T) {
	srv, err := New(testConfig(t), nil)
	require.NoError(t, err)
	t.Cleanup(func() { srv.regions.Close() })

	// The earlier session's peer never reads, so kicking it blocks on write.
	stalled, peer := net.Pipe()
	id := offlineUUID("Steve")
	old := &Player{
		EntityID: 1000,
		Username: "Steve",
		UUID:     id,
		srv:      srv,
		conn:     codec.NewConn(stalled),
		log:      zap.NewNop(),
		done:     make(chan struct{}),
	}
	srv.players[old.EntityID] = old

	fresh, freshPeer := net.Pipe()
	t.Cleanup(func() {
		fresh.Close()
		freshPeer.Close()
	})
	added := make(chan *Player, 1)
	go func() {
		p, err := srv.addPlayer(&session{conn: codec.NewConn(fresh), log: zap.NewNop()}, "Steve", id)
		assert.NoError(t, err)
		added <- p
	}()

	require.Eventually(t, func() bool { return srv.playerCount() == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Len(t, srv.snapshotPlayers(), 2)
	select {
	case <-added:
		t.Fatal("kick finished although the client never read")
	default:
	}

	peer.Close()
	select {
	case p := <-added:
		assert.Equal(t, id, p.UUID)
	case <-time.After(5 * time.Second):
		t.Fatal("addPlayer did not return")
	}
	select {
	case <-old.done:
	case <-time.After(time.Second):
		t.Fatal("earlier session not closed")
	}
}

func TestOutdatedClientRejected(t *testing.T) {
	srv := startServer(t, testConfig(t))
	c := dial(t, srv)
	c.send(&protocol.Handshake{ProtocolVersion: 5, ServerAddress: "localhost", ServerPort: 25565, NextState: protocol.StateLogin})
	c.state = protocol.StateLogin
	c.send(&protocol.LoginStart{Name: "Old"})
	_, ok := c.recv().(*protocol.LoginDisconnect)
	assert.True(t, ok)
}

func TestEncryptedLogin(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.Encryption = true
	srv := startServer(t, cfg)

	c := dial(t, srv)
	c.handshake(protocol.StateLogin)
	c.send(&protocol.LoginStart{Name: "Secret"})

	req, ok := c.recv().(*protocol.EncryptionRequest)
	require.True(t, ok)
	pub, err := x509.ParsePKIXPublicKey(req.PublicKey)
	require.NoError(t, err)
	rsaPub := pub.(*rsa.PublicKey)
	assert.Equal(t, 1024, rsaPub.N.BitLen())

	secret := make([]byte, codec.SharedSecretSize)
	_, err = rand.Read(secret)
	require.NoError(t, err)
	encSecret, err := rsa.EncryptPKCS1v15(rand.Reader, rsaPub, secret)
	require.NoError(t, err)
	encToken, err := rsa.EncryptPKCS1v15(rand.Reader, rsaPub, req.VerifyToken)
	require.NoError(t, err)

	c.send(&protocol.EncryptionResponse{SharedSecret: encSecret, VerifyToken: encToken})
	require.NoError(t, c.conn.EnableEncryption(secret))

	comp, ok := c.recv().(*protocol.SetCompression)
	require.True(t, ok)
	c.conn.SetThreshold(int(comp.Threshold))
	success, ok := c.recv().(*protocol.LoginSuccess)
	require.True(t, ok)
	assert.Equal(t, "Secret", success.Username)

	c.state = protocol.StatePlay
	c.recvKind(protocol.KindJoinGame)
}

func TestEncryptedLoginBadToken(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.Encryption = true
	srv := startServer(t, cfg)

	c := dial(t, srv)
	c.handshake(protocol.StateLogin)
	c.send(&protocol.LoginStart{Name: "Mallory"})
	req := c.recv().(*protocol.EncryptionRequest)
	pub, err := x509.ParsePKIXPublicKey(req.PublicKey)
	require.NoError(t, err)
	rsaPub := pub.(*rsa.PublicKey)

	secret := make([]byte, codec.SharedSecretSize)
	encSecret, err := rsa.EncryptPKCS1v15(rand.Reader, rsaPub, secret)
	require.NoError(t, err)
	encToken, err := rsa.EncryptPKCS1v15(rand.Reader, rsaPub, []byte{0, 0, 0, 0, 0})
	require.NoError(t, err)
	c.send(&protocol.EncryptionResponse{SharedSecret: encSecret, VerifyToken: encToken})

	// The server hangs up without enabling encryption.
	require.NoError(t, c.conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, err = c.conn.ReadPacket()
	require.Error(t, err)
	var ne net.Error
	assert.False(t, errors.As(err, &ne) && ne.Timeout(), "expected the server to close the connection")
}

func TestStopSavesGeneratedChunks(t *testing.T) {
	cfg := testConfig(t)
	srv := startServer(t, cfg)

	c := dial(t, srv)
	c.login("Saver")
	for seen := 0; seen < 9; seen++ {
		c.recvKind(protocol.KindChunkData)
	}
	require.NoError(t, srv.Stop())

	r, err := region.Open(filepath.Join(cfg.RegionDir(), region.Pos{}.FileName()), region.Options{ReadOnly: true})
	require.NoError(t, err)
	defer r.Close()
	assert.True(t, r.HasChunk(0, 0))
	assert.True(t, r.HasChunk(1, 1))

	data, err := r.ReadChunk(0, 0)
	require.NoError(t, err)
	col, err := chunk.UnmarshalNBT(data)
	require.NoError(t, err)
	assert.Equal(t, uint16(2<<4), col.Block(0, 4, 0))
}

func TestInboundOverflow(t *testing.T) {
	p := &Player{inbound: make(chan protocol.Message, 2)}
	assert.True(t, p.enqueue(&protocol.KeepAlive{ID: 1}))
	assert.True(t, p.enqueue(&protocol.KeepAlive{ID: 2}))
	assert.False(t, p.enqueue(&protocol.KeepAlive{ID: 3}))

	msg, ok := p.next()
	require.True(t, ok)
	assert.Equal(t, int32(1), msg.(*protocol.KeepAlive).ID)
}

func TestSaveEvery(t *testing.T) {
	srv, err := New(testConfig(t), nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), srv.saveEvery())

	srv.config.Storage.SaveInterval = 5 * time.Second
	assert.Equal(t, uint64(100), srv.saveEvery())
	srv.config.Storage.SaveInterval = time.Millisecond
	assert.Equal(t, uint64(1), srv.saveEvery())
	require.NoError(t, srv.regions.Close())
}
