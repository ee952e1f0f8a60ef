package region

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Width is the number of chunk columns along each axis of a region.
const Width = 32

// Pos identifies a region file in region coordinates.
type Pos struct {
	X, Z int32
}

// Of returns the region containing chunk (cx, cz).
func Of(cx, cz int32) Pos {
	return Pos{X: cx >> 5, Z: cz >> 5}
}

// Local returns the chunk's coordinates inside its region.
func Local(cx, cz int32) (x, z int) {
	return int(cx & (Width - 1)), int(cz & (Width - 1))
}

// FileName is the conventional file name of the region, r.<x>.<z>.mca.
func (p Pos) FileName() string {
	return fmt.Sprintf("r.%d.%d.mca", p.X, p.Z)
}

func (p Pos) String() string {
	return fmt.Sprintf("(%d, %d)", p.X, p.Z)
}

// ParseFileName extracts the region position from a path ending in
// r.<x>.<z>.mca.
func ParseFileName(path string) (Pos, error) {
	name := filepath.Base(path)
	var p Pos
	if !strings.HasSuffix(name, ".mca") {
		return p, fmt.Errorf("region: %q is not a region file name", name)
	}
	if _, err := fmt.Sscanf(name, "r.%d.%d.mca", &p.X, &p.Z); err != nil {
		return p, fmt.Errorf("region: %q is not a region file name: %w", name, err)
	}
	return p, nil
}

func index(x, z int) int {
	return x + z*Width
}

func inBounds(x, z int) bool {
	return x >= 0 && x < Width && z >= 0 && z < Width
}
