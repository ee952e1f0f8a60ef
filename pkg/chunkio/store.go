package chunkio

import (
	"context"
	"fmt"

	"github.com/StoreStation/AnvilCraft/pkg/chunk"
	"github.com/StoreStation/AnvilCraft/pkg/region"
)

// ErrNotFound means no chunk is stored at the requested position.
var ErrNotFound = region.ErrChunkNotFound

// Store persists chunk columns.
type Store interface {
	LoadChunk(ctx context.Context, pos chunk.Pos) (*chunk.Column, error)
	SaveChunk(ctx context.Context, col *chunk.Column) error
	DeleteChunk(ctx context.Context, pos chunk.Pos) error
}

// RegionStore keeps columns in Anvil region files through a region cache.
type RegionStore struct {
	cache *region.Cache
}

// NewRegionStore returns a store backed by cache.
func NewRegionStore(cache *region.Cache) *RegionStore {
	return &RegionStore{cache: cache}
}

// LoadRaw returns the stored NBT of pos exactly as written.
func (s *RegionStore) LoadRaw(pos chunk.Pos) ([]byte, error) {
	var data []byte
	x, z := region.Local(pos.X, pos.Z)
	err := s.cache.With(pos.Region(), func(r *region.Region) error {
		var err error
		data, err = r.ReadChunk(x, z)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("load chunk %s: %w", pos, err)
	}
	return data, nil
}

// SaveRaw stores data as the NBT of pos.
func (s *RegionStore) SaveRaw(pos chunk.Pos, data []byte) error {
	x, z := region.Local(pos.X, pos.Z)
	err := s.cache.With(pos.Region(), func(r *region.Region) error {
		return r.WriteChunk(x, z, data)
	})
	if err != nil {
		return fmt.Errorf("save chunk %s: %w", pos, err)
	}
	return nil
}

func (s *RegionStore) LoadChunk(ctx context.Context, pos chunk.Pos) (*chunk.Column, error) {
	data, err := s.LoadRaw(pos)
	if err != nil {
		return nil, err
	}
	col, err := chunk.UnmarshalNBT(data)
	if err != nil {
		return nil, fmt.Errorf("load chunk %s: %w", pos, err)
	}
	if col.Pos != pos {
		return nil, fmt.Errorf("load chunk %s: %w: stored position %s", pos, chunk.ErrBadNBT, col.Pos)
	}
	return col, nil
}

func (s *RegionStore) SaveChunk(ctx context.Context, col *chunk.Column) error {
	data, err := col.MarshalNBT()
	if err != nil {
		return err
	}
	return s.SaveRaw(col.Pos, data)
}

func (s *RegionStore) DeleteChunk(ctx context.Context, pos chunk.Pos) error {
	x, z := region.Local(pos.X, pos.Z)
	err := s.cache.With(pos.Region(), func(r *region.Region) error {
		return r.DeleteChunk(x, z)
	})
	if err != nil {
		return fmt.Errorf("delete chunk %s: %w", pos, err)
	}
	return nil
}
