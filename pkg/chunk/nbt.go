package chunk

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/Tnze/go-mc/nbt"
)

// ErrBadNBT means a stored chunk did not have the Anvil layout.
var ErrBadNBT = errors.New("chunk: malformed chunk NBT")

type anvilRoot struct {
	Level anvilLevel `nbt:"Level"`
}

type anvilLevel struct {
	XPos             int32          `nbt:"xPos"`
	ZPos             int32          `nbt:"zPos"`
	LastUpdate       int64          `nbt:"LastUpdate"`
	TerrainPopulated byte           `nbt:"TerrainPopulated"`
	LightPopulated   byte           `nbt:"LightPopulated"`
	V                byte           `nbt:"V"`
	Biomes           []byte         `nbt:"Biomes"`
	HeightMap        []int32        `nbt:"HeightMap"`
	Sections         []anvilSection `nbt:"Sections"`
}

type anvilSection struct {
	Y          byte   `nbt:"Y"`
	Blocks     []byte `nbt:"Blocks"`
	Add        []byte `nbt:"Add,omitempty"`
	Data       []byte `nbt:"Data"`
	BlockLight []byte `nbt:"BlockLight"`
	SkyLight   []byte `nbt:"SkyLight"`
}

// MarshalNBT encodes the column in the Anvil 1.8 layout. All-air sections
// are left out.
func (c *Column) MarshalNBT() ([]byte, error) {
	lvl := anvilLevel{
		XPos:       c.Pos.X,
		ZPos:       c.Pos.Z,
		LastUpdate: c.LastUpdate,
		V:          1,
		Biomes:     append([]byte(nil), c.Biomes[:]...),
		HeightMap:  c.heightMap(),
	}
	if c.TerrainPopulated {
		lvl.TerrainPopulated = 1
	}
	lvl.LightPopulated = 1

	for y, s := range c.Sections {
		if s == nil || s.Empty() {
			continue
		}
		lvl.Sections = append(lvl.Sections, encodeSection(byte(y), s))
	}

	var buf bytes.Buffer
	if err := nbt.NewEncoder(&buf).Encode(anvilRoot{Level: lvl}, ""); err != nil {
		return nil, fmt.Errorf("chunk %s: encode nbt: %w", c.Pos, err)
	}
	return buf.Bytes(), nil
}

func encodeSection(y byte, s *Section) anvilSection {
	out := anvilSection{
		Y:          y,
		Blocks:     make([]byte, SectionVolume),
		Data:       make([]byte, nibbleLen),
		BlockLight: append([]byte(nil), s.BlockLight[:]...),
		SkyLight:   append([]byte(nil), s.SkyLight[:]...),
	}
	var add []byte
	for i, state := range s.Blocks {
		id, meta := state>>4, byte(state&15)
		out.Blocks[i] = byte(id)
		setNibble(out.Data, i, meta)
		if hi := byte(id >> 8); hi != 0 {
			if add == nil {
				add = make([]byte, nibbleLen)
			}
			setNibble(add, i, hi)
		}
	}
	out.Add = add
	return out
}

func setNibble(arr []byte, i int, v byte) {
	if i&1 == 0 {
		arr[i>>1] = arr[i>>1]&0xF0 | v&0x0F
	} else {
		arr[i>>1] = arr[i>>1]&0x0F | v<<4
	}
}

func nibble(arr []byte, i int) byte {
	if i&1 == 0 {
		return arr[i>>1] & 0x0F
	}
	return arr[i>>1] >> 4
}

// heightMap records, per (x, z), one above the highest non-air block.
func (c *Column) heightMap() []int32 {
	hm := make([]int32, BiomeArea)
	for z := 0; z < 16; z++ {
		for x := 0; x < 16; x++ {
			for y := Height - 1; y >= 0; y-- {
				if c.Block(x, y, z) != 0 {
					hm[z<<4|x] = int32(y + 1)
					break
				}
			}
		}
	}
	return hm
}

// UnmarshalNBT decodes an Anvil chunk. The stored xPos/zPos become the
// column position.
func UnmarshalNBT(data []byte) (*Column, error) {
	var root anvilRoot
	if _, err := nbt.NewDecoder(bytes.NewReader(data)).Decode(&root); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadNBT, err)
	}
	lvl := root.Level

	c := NewColumn(Pos{X: lvl.XPos, Z: lvl.ZPos})
	c.LastUpdate = lvl.LastUpdate
	c.TerrainPopulated = lvl.TerrainPopulated != 0
	if len(lvl.Biomes) == BiomeArea {
		copy(c.Biomes[:], lvl.Biomes)
	} else if len(lvl.Biomes) != 0 {
		return nil, fmt.Errorf("%w: %d biome bytes", ErrBadNBT, len(lvl.Biomes))
	}

	for _, sec := range lvl.Sections {
		if sec.Y >= SectionsPerColumn {
			return nil, fmt.Errorf("%w: section Y %d", ErrBadNBT, sec.Y)
		}
		s, err := decodeSection(sec)
		if err != nil {
			return nil, err
		}
		c.Sections[sec.Y] = s
	}
	return c, nil
}

func decodeSection(sec anvilSection) (*Section, error) {
	if len(sec.Blocks) != SectionVolume || len(sec.Data) != nibbleLen {
		return nil, fmt.Errorf("%w: section %d has %d blocks, %d data bytes", ErrBadNBT, sec.Y, len(sec.Blocks), len(sec.Data))
	}
	if sec.Add != nil && len(sec.Add) != nibbleLen {
		return nil, fmt.Errorf("%w: section %d Add is %d bytes", ErrBadNBT, sec.Y, len(sec.Add))
	}
	s := NewSection()
	for i := range s.Blocks {
		id := uint16(sec.Blocks[i])
		if sec.Add != nil {
			id |= uint16(nibble(sec.Add, i)) << 8
		}
		s.Blocks[i] = id<<4 | uint16(nibble(sec.Data, i))
	}
	if len(sec.BlockLight) == nibbleLen {
		copy(s.BlockLight[:], sec.BlockLight)
	}
	if len(sec.SkyLight) == nibbleLen {
		copy(s.SkyLight[:], sec.SkyLight)
	}
	return s, nil
}
