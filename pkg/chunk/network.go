package chunk

import "encoding/binary"

// NetworkData returns the Chunk Data payload for a ground-up column and its
// primary bit mask. Sections are written non-interleaved: every section's
// blocks, then every section's block light, then sky light, then biomes.
func (c *Column) NetworkData() ([]byte, uint16) {
	mask := c.SectionMask()
	var active []*Section
	for i, s := range c.Sections {
		if mask&(1<<uint(i)) != 0 {
			active = append(active, s)
		}
	}

	out := make([]byte, 0, len(active)*(SectionVolume*2+nibbleLen*2)+BiomeArea)
	for _, s := range active {
		for _, b := range s.Blocks {
			out = binary.LittleEndian.AppendUint16(out, b)
		}
	}
	for _, s := range active {
		out = append(out, s.BlockLight[:]...)
	}
	for _, s := range active {
		out = append(out, s.SkyLight[:]...)
	}
	out = append(out, c.Biomes[:]...)
	return out, mask
}
