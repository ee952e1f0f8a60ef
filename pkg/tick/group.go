// Package tick drives the fixed-rate game loop. Work is split into groups
// that run concurrently within a tick; a tick ends when every group is done.
package tick

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/StoreStation/AnvilCraft/pkg/chunk"
	"github.com/StoreStation/AnvilCraft/pkg/world"
)

// Group is a unit of per-tick work. Groups share no ordering with each other.
type Group interface {
	Name() string
	Tick(ctx context.Context, n uint64) error
}

type funcGroup struct {
	name string
	fn   func(ctx context.Context, n uint64) error
}

// Func adapts fn to a Group.
func Func(name string, fn func(ctx context.Context, n uint64) error) Group {
	return &funcGroup{name: name, fn: fn}
}

func (g *funcGroup) Name() string                             { return g.name }
func (g *funcGroup) Tick(ctx context.Context, n uint64) error { return g.fn(ctx, n) }

// worldGroup ticks the chunks of one or more worlds, optionally only the
// subset whose hash lands in bucket part of parts.
type worldGroup struct {
	name   string
	worlds []*world.World
	part   uint32
	parts  uint32
}

func (g *worldGroup) Name() string { return g.name }

func (g *worldGroup) Tick(ctx context.Context, n uint64) error {
	var keep func(chunk.Pos) bool
	if g.parts > 1 {
		keep = func(p chunk.Pos) bool { return subset(p, g.parts) == g.part }
	}
	for _, w := range g.worlds {
		if err := ctx.Err(); err != nil {
			return err
		}
		w.Chunks.Tick(n, keep)
	}
	return nil
}

func subset(p chunk.Pos, parts uint32) uint32 {
	h := uint32(p.X)*73856093 ^ uint32(p.Z)*19349663
	h ^= h >> 16
	h *= 0x85ebca6b
	h ^= h >> 13
	return h % parts
}

// Mode selects how worlds are split into groups.
type Mode uint8

const (
	// ModeSingle runs every world in one group.
	ModeSingle Mode = iota
	// ModePerWorld gives each world its own group.
	ModePerWorld
	// ModeChunkSubsets splits every world's chunks into Subsets groups.
	ModeChunkSubsets
)

// Strategy is a grouping mode plus its parameter.
type Strategy struct {
	Mode    Mode
	Subsets int
}

func SingleGroup() Strategy       { return Strategy{Mode: ModeSingle} }
func PerWorld() Strategy          { return Strategy{Mode: ModePerWorld} }
func ChunkSubsets(k int) Strategy { return Strategy{Mode: ModeChunkSubsets, Subsets: k} }

func (s Strategy) String() string {
	switch s.Mode {
	case ModeSingle:
		return "single"
	case ModePerWorld:
		return "per-world"
	case ModeChunkSubsets:
		return fmt.Sprintf("chunk-subsets:%d", s.Subsets)
	}
	return fmt.Sprintf("Strategy(%d)", s.Mode)
}

// ParseStrategy reads "single", "per-world" or "chunk-subsets:<k>".
func ParseStrategy(s string) (Strategy, error) {
	switch {
	case s == "single" || s == "":
		return SingleGroup(), nil
	case s == "per-world":
		return PerWorld(), nil
	case strings.HasPrefix(s, "chunk-subsets:"):
		k, err := strconv.Atoi(strings.TrimPrefix(s, "chunk-subsets:"))
		if err != nil || k < 1 {
			return Strategy{}, fmt.Errorf("tick: bad subset count in %q", s)
		}
		return ChunkSubsets(k), nil
	}
	return Strategy{}, fmt.Errorf("tick: unknown strategy %q", s)
}

// Groups builds the tick groups for worlds.
func (s Strategy) Groups(worlds []*world.World) []Group {
	switch s.Mode {
	case ModePerWorld:
		out := make([]Group, 0, len(worlds))
		for _, w := range worlds {
			out = append(out, &worldGroup{name: "world/" + w.Name, worlds: []*world.World{w}})
		}
		return out
	case ModeChunkSubsets:
		k := max(s.Subsets, 1)
		out := make([]Group, 0, len(worlds)*k)
		for _, w := range worlds {
			for i := 0; i < k; i++ {
				out = append(out, &worldGroup{
					name:   fmt.Sprintf("world/%s/%d", w.Name, i),
					worlds: []*world.World{w},
					part:   uint32(i),
					parts:  uint32(k),
				})
			}
		}
		return out
	}
	return []Group{&worldGroup{name: "worlds", worlds: worlds}}
}
