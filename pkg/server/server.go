package server

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/StoreStation/AnvilCraft/pkg/chat"
	"github.com/StoreStation/AnvilCraft/pkg/chunkio"
	"github.com/StoreStation/AnvilCraft/pkg/codec"
	"github.com/StoreStation/AnvilCraft/pkg/config"
	"github.com/StoreStation/AnvilCraft/pkg/protocol"
	"github.com/StoreStation/AnvilCraft/pkg/region"
	"github.com/StoreStation/AnvilCraft/pkg/tick"
	"github.com/StoreStation/AnvilCraft/pkg/world"
)

// shutdownTimeout bounds the final save on Stop.
const shutdownTimeout = 30 * time.Second

// Server represents a Minecraft 1.8 server backed by anvil region files.
type Server struct {
	config   *config.Config
	log      *zap.Logger
	registry *protocol.Registry

	world   *world.World
	pool    *chunkio.Pool
	regions *region.Cache
	sched   *tick.Scheduler

	key       *rsa.PrivateKey
	publicKey []byte

	listener net.Listener
	players  map[int32]*Player
	open     map[*codec.Conn]struct{}
	mu       sync.RWMutex
	nextEID  int32

	ctx      context.Context
	cancel   context.CancelFunc
	stopCh   chan struct{}
	stopOnce sync.Once
	conns    sync.WaitGroup
	loops    sync.WaitGroup
}

// New wires the storage stack, world and tick scheduler described by cfg.
// Nothing touches the network until Start.
func New(cfg *config.Config, log *zap.Logger) (*Server, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	strategy, err := tick.ParseStrategy(cfg.Tick.Strategy)
	if err != nil {
		return nil, err
	}
	comp, err := cfg.Storage.RegionCompression()
	if err != nil {
		return nil, err
	}

	opts := region.DefaultOptions()
	opts.Compression = comp
	regions, err := region.NewCache(cfg.RegionDir(), cfg.Storage.MaxOpenRegions, opts, log)
	if err != nil {
		return nil, err
	}
	pool := chunkio.NewPool(chunkio.NewRegionStore(regions), cfg.Storage.Workers, cfg.Storage.QueueSize, log)

	var gen world.Generator = world.NewNoiseGenerator(cfg.World.Seed)
	if cfg.World.Generator == "flat" {
		gen = world.FlatGenerator{}
	}
	chunks := world.NewChunkManager(pool, gen, log.Named("world").With(zap.String("world", cfg.World.Name)))
	w := world.New(cfg.World.Name, world.SpawnPoint(gen), chunks)

	s := &Server{
		config:   cfg,
		log:      log,
		registry: protocol.NewRegistry(),
		world:    w,
		pool:     pool,
		regions:  regions,
		players:  make(map[int32]*Player),
		open:     make(map[*codec.Conn]struct{}),
		nextEID:  1,
		stopCh:   make(chan struct{}),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.sched = tick.NewScheduler(cfg.Tick.Rate, log, strategy.Groups([]*world.World{w})...)
	s.sched.Add(
		tick.Func("players", s.tickPlayers),
		tick.Func("storage", s.tickStorage),
	)
	return s, nil
}

// World returns the world served to players.
func (s *Server) World() *world.World { return s.world }

// Start generates the login key pair (when encryption is on), starts the
// chunk workers and the tick loop, and begins accepting connections.
func (s *Server) Start() error {
	if s.config.Server.Encryption {
		key, err := rsa.GenerateKey(rand.Reader, 1024)
		if err != nil {
			return fmt.Errorf("generate server key: %w", err)
		}
		der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
		if err != nil {
			return fmt.Errorf("encode server key: %w", err)
		}
		s.key, s.publicKey = key, der
	}

	ln, err := net.Listen("tcp", s.config.Server.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Server.Address, err)
	}
	s.listener = ln

	s.pool.Start(context.Background())
	s.loops.Add(2)
	go func() {
		defer s.loops.Done()
		if err := s.sched.Run(s.ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.log.Error("tick loop stopped", zap.Error(err))
		}
	}()
	go func() {
		defer s.loops.Done()
		s.acceptLoop()
	}()

	s.log.Info("server listening",
		zap.Stringer("addr", ln.Addr()),
		zap.String("world", s.world.Name),
		zap.Bool("encryption", s.key != nil),
		zap.Int("compression_threshold", s.config.Network.CompressionThreshold))
	return nil
}

// Addr returns the listening address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// StopChan is closed once Stop has begun.
func (s *Server) StopChan() <-chan struct{} { return s.stopCh }

// Stop disconnects every player, writes dirty chunks and closes the region
// files. It is safe to call more than once.
func (s *Server) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		close(s.stopCh)
		if s.listener != nil {
			s.listener.Close()
		}
		for _, p := range s.snapshotPlayers() {
			p.kick("Server closed")
		}
		s.mu.RLock()
		for c := range s.open {
			c.Close()
		}
		s.mu.RUnlock()
		s.conns.Wait()
		s.cancel()
		s.loops.Wait()
		err = s.shutdownStorage()
	})
	return err
}

func (s *Server) shutdownStorage() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	saved, err := s.world.Chunks.Flush(ctx, savePriority)
	if err != nil {
		errs = append(errs, err)
	}
	s.pool.Close()
	if err := s.regions.Close(); err != nil {
		errs = append(errs, err)
	}
	s.log.Info("world saved", zap.Int("chunks", saved))
	return errors.Join(errs...)
}

func (s *Server) acceptLoop() {
	for {
		nc, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.stopCh:
				return
			default:
				s.log.Warn("accept error", zap.Error(err))
				continue
			}
		}
		conn := codec.NewConn(nc)
		if !s.track(conn) {
			conn.Close()
			return
		}
		go func() {
			defer s.conns.Done()
			defer s.untrack(conn)
			s.handleConnection(conn)
		}()
	}
}

// session is the state of one connection before it becomes a player.
type session struct {
	conn    *codec.Conn
	state   protocol.State
	version int32
	log     *zap.Logger
}

// track registers an accepted connection so Stop can close it. It refuses
// once the server is stopping.
func (s *Server) track(c *codec.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.stopCh:
		return false
	default:
	}
	s.open[c] = struct{}{}
	s.conns.Add(1)
	return true
}

func (s *Server) untrack(c *codec.Conn) {
	s.mu.Lock()
	delete(s.open, c)
	s.mu.Unlock()
}

func (s *Server) handleConnection(conn *codec.Conn) {
	defer conn.Close()
	conn.SetCompressionLevel(s.config.Network.CompressionLevel)

	sess := &session{
		conn:  conn,
		state: protocol.StateHandshaking,
		log:   s.log.With(zap.Stringer("remote", conn.RemoteAddr())),
	}
	for {
		msg, err := s.readMessage(sess)
		if err != nil {
			if !errors.Is(err, protocol.ErrUnknownPacket) {
				sess.log.Debug("connection closed", zap.Stringer("state", sess.state), zap.Error(err))
				return
			}
			sess.log.Debug("ignoring packet", zap.Error(err))
			continue
		}

		switch m := msg.(type) {
		case *protocol.Handshake:
			next, err := sess.state.Transition(m.NextState)
			if err != nil {
				sess.log.Debug("handshake rejected", zap.Error(err))
				return
			}
			sess.state = next
			sess.version = m.ProtocolVersion
		case *protocol.StatusRequest:
			if err := s.handleStatusRequest(sess); err != nil {
				return
			}
		case *protocol.StatusPing:
			s.send(sess, &protocol.StatusPong{Payload: m.Payload})
			return
		case *protocol.LoginStart:
			player, err := s.handleLoginStart(sess, m)
			if err != nil {
				sess.log.Info("login failed", zap.String("username", m.Name), zap.Error(err))
				return
			}
			s.handlePlay(player)
			return
		default:
			sess.log.Debug("unexpected packet", zap.Stringer("kind", msg.Kind()), zap.Stringer("state", sess.state))
			return
		}
	}
}

// readMessage reads and decodes one serverbound packet in the session state.
func (s *Server) readMessage(sess *session) (protocol.Message, error) {
	sess.conn.SetReadDeadline(time.Now().Add(s.config.Network.ReadTimeout))
	pkt, err := sess.conn.ReadPacket()
	if err != nil {
		return nil, err
	}
	return s.registry.Decode(sess.state, protocol.Serverbound, pkt)
}

// send encodes msg for the session state and writes it.
func (s *Server) send(sess *session, msg protocol.Message) error {
	pkt, err := s.registry.Encode(sess.state, protocol.Clientbound, msg)
	if err != nil {
		return err
	}
	return sess.conn.WritePacket(pkt)
}

type statusVersion struct {
	Name     string `json:"name"`
	Protocol int    `json:"protocol"`
}

type statusPlayers struct {
	Max    int   `json:"max"`
	Online int   `json:"online"`
	Sample []any `json:"sample"`
}

type statusResponse struct {
	Version     statusVersion `json:"version"`
	Players     statusPlayers `json:"players"`
	Description chat.Message  `json:"description"`
}

func (s *Server) handleStatusRequest(sess *session) error {
	resp := statusResponse{
		Version: statusVersion{Name: protocol.GameVersion, Protocol: protocol.ProtocolVersion},
		Players: statusPlayers{
			Max:    s.config.Server.MaxPlayers,
			Online: s.playerCount(),
			Sample: []any{},
		},
		Description: chat.Text(s.config.Server.MOTD),
	}
	data, err := json.Marshal(resp)
	if err != nil {
		sess.log.Error("failed to marshal status response", zap.Error(err))
		return err
	}
	return s.send(sess, &protocol.StatusResponse{JSON: string(data)})
}

func (s *Server) playerCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.players)
}

func (s *Server) snapshotPlayers() []*Player {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Player, 0, len(s.players))
	for _, p := range s.players {
		out = append(out, p)
	}
	return out
}
