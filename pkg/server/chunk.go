package server

import (
	"cmp"
	"context"
	"errors"
	"math"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/StoreStation/AnvilCraft/pkg/chunk"
	"github.com/StoreStation/AnvilCraft/pkg/protocol"
	"github.com/StoreStation/AnvilCraft/pkg/world"
)

const (
	// savePriority keeps background saves behind chunk loads for players.
	savePriority = -1 << 20
	// unloadEvery is how often, in ticks, unwatched chunks are dropped.
	unloadEvery = 100
)

// updateChunks streams the view-distance square around the player when they
// cross a chunk boundary. New chunks are loaded nearest first and chunks that
// fell out of range are unloaded on the client.
func (s *Server) updateChunks(p *Player) {
	p.mu.Lock()
	center := chunk.PosOf(int32(math.Floor(p.X)), int32(math.Floor(p.Z)))
	if p.centered && center == p.center {
		p.mu.Unlock()
		return
	}
	p.center, p.centered = center, true
	vd := int32(p.viewDistance)

	var toLoad []chunk.Pos
	for cx := center.X - vd; cx <= center.X+vd; cx++ {
		for cz := center.Z - vd; cz <= center.Z+vd; cz++ {
			pos := chunk.Pos{X: cx, Z: cz}
			if !p.loaded[pos] {
				p.loaded[pos] = true
				toLoad = append(toLoad, pos)
			}
		}
	}
	var toUnload []chunk.Pos
	for pos := range p.loaded {
		dx, dz := pos.X-center.X, pos.Z-center.Z
		if dx < -vd || dx > vd || dz < -vd || dz > vd {
			delete(p.loaded, pos)
			toUnload = append(toUnload, pos)
		}
	}
	p.mu.Unlock()

	slices.SortFunc(toLoad, func(a, b chunk.Pos) int {
		return cmp.Compare(a.DistanceSq(center), b.DistanceSq(center))
	})
	for _, pos := range toLoad {
		req := s.world.Chunks.Load(s.ctx, pos, -int(pos.DistanceSq(center)))
		req.OnComplete(func(_ *chunk.Column, err error) {
			if err != nil {
				p.log.Warn("chunk unavailable", zap.Stringer("chunk", pos), zap.Error(err))
				p.forget(pos)
				return
			}
			p.queueChunk(pos)
		})
	}

	for _, pos := range toUnload {
		if err := p.Send(&protocol.ChunkData{X: pos.X, Z: pos.Z, GroundUp: true}); err != nil {
			return
		}
	}
}

// forget drops pos from the player's view so the next move requests it again.
func (p *Player) forget(pos chunk.Pos) {
	p.mu.Lock()
	delete(p.loaded, pos)
	p.centered = false
	p.mu.Unlock()
}

func (p *Player) queueChunk(pos chunk.Pos) {
	select {
	case p.chunks <- pos:
	default:
		p.forget(pos)
	}
}

func (p *Player) wants(pos chunk.Pos) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loaded[pos]
}

// chunkSender writes loaded chunks to the player off the tick and I/O
// goroutines.
func (s *Server) chunkSender(p *Player) {
	for {
		select {
		case <-p.done:
			return
		case pos := <-p.chunks:
			if err := s.sendChunk(p, pos); err != nil {
				p.log.Debug("chunk send failed", zap.Error(err))
				p.close()
				return
			}
		}
	}
}

func (s *Server) sendChunk(p *Player, pos chunk.Pos) error {
	if !p.wants(pos) {
		return nil
	}
	var (
		data []byte
		mask uint16
	)
	if !s.world.Chunks.View(pos, func(c *chunk.Column) { data, mask = c.NetworkData() }) {
		p.forget(pos)
		return nil
	}
	return p.Send(&protocol.ChunkData{
		X:              pos.X,
		Z:              pos.Z,
		GroundUp:       true,
		PrimaryBitMask: mask,
		Data:           data,
	})
}

// tickStorage saves dirty chunks every save interval and drops chunks no
// player is watching. Dropping a failed chunk lets the next load retry it.
func (s *Server) tickStorage(ctx context.Context, n uint64) error {
	var errs []error
	if every := s.saveEvery(); every > 0 && n > 0 && n%every == 0 {
		reqs, err := s.world.Chunks.SaveDirty(ctx, savePriority)
		if len(reqs) > 0 {
			s.log.Debug("autosave queued", zap.Int("chunks", len(reqs)))
		}
		errs = append(errs, err)
	}
	if n%unloadEvery == 0 {
		errs = append(errs, s.unloadUnwatched(ctx))
	}
	return errors.Join(errs...)
}

func (s *Server) saveEvery() uint64 {
	interval := s.config.Storage.SaveInterval
	if interval <= 0 {
		return 0
	}
	return max(uint64(interval*time.Duration(s.config.Tick.Rate)/time.Second), 1)
}

func (s *Server) unloadUnwatched(ctx context.Context) error {
	watched := make(map[chunk.Pos]bool)
	for _, p := range s.snapshotPlayers() {
		p.mu.Lock()
		for pos := range p.loaded {
			watched[pos] = true
		}
		p.mu.Unlock()
	}

	var errs []error
	dropped := 0
	for _, pos := range append(s.world.Chunks.Loaded(), s.world.Chunks.Failed()...) {
		if watched[pos] {
			continue
		}
		if _, err := s.world.Chunks.Unload(ctx, pos); err != nil {
			if !errors.Is(err, world.ErrChunkBusy) {
				errs = append(errs, err)
			}
			continue
		}
		dropped++
	}
	if dropped > 0 {
		s.log.Debug("unloaded chunks", zap.Int("count", dropped))
	}
	return errors.Join(errs...)
}
