package region

import (
	"bytes"
	"encoding/binary"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T, opts Options) (*Region, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), Pos{}.FileName())
	r, err := Open(path, opts)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r, path
}

func randomPayload(seed int64, n int) []byte {
	b := make([]byte, n)
	rand.New(rand.NewSource(seed)).Read(b)
	return b
}

func TestCoordinates(t *testing.T) {
	tests := []struct {
		cx, cz int32
		pos    Pos
		x, z   int
	}{
		{0, 0, Pos{0, 0}, 0, 0},
		{31, 31, Pos{0, 0}, 31, 31},
		{32, 0, Pos{1, 0}, 0, 0},
		{-1, -1, Pos{-1, -1}, 31, 31},
		{-32, -33, Pos{-1, -2}, 0, 31},
		{100, -100, Pos{3, -4}, 4, 28},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.pos, Of(tt.cx, tt.cz), "Of(%d, %d)", tt.cx, tt.cz)
		x, z := Local(tt.cx, tt.cz)
		assert.Equal(t, tt.x, x)
		assert.Equal(t, tt.z, z)
	}

	assert.Equal(t, "r.-1.2.mca", Pos{-1, 2}.FileName())
	p, err := ParseFileName("/world/region/r.-3.7.mca")
	require.NoError(t, err)
	assert.Equal(t, Pos{-3, 7}, p)
	_, err = ParseFileName("level.dat")
	assert.Error(t, err)
}

func TestOpenCreatesHeader(t *testing.T) {
	_, path := openTemp(t, DefaultOptions())
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(2*SectorSize), info.Size())
}

func TestWriteReadAllCompressions(t *testing.T) {
	for _, c := range []Compression{CompressionGzip, CompressionZlib, CompressionNone} {
		t.Run(c.String(), func(t *testing.T) {
			opts := DefaultOptions()
			opts.Compression = c
			r, path := openTemp(t, opts)

			small := []byte("hello chunk")
			big := randomPayload(1, 3*SectorSize)
			require.NoError(t, r.WriteChunk(0, 0, small))
			require.NoError(t, r.WriteChunk(31, 31, big))

			got, err := r.ReadChunk(0, 0)
			require.NoError(t, err)
			assert.Equal(t, small, got)

			// Reopen and read from disk.
			require.NoError(t, r.Close())
			r2, err := Open(path, opts)
			require.NoError(t, err)
			defer r2.Close()

			got, err = r2.ReadChunk(31, 31)
			require.NoError(t, err)
			assert.Equal(t, big, got)
			assert.True(t, r2.HasChunk(0, 0))
			assert.False(t, r2.HasChunk(1, 0))
		})
	}
}

func TestReadMissingAndBounds(t *testing.T) {
	r, _ := openTemp(t, DefaultOptions())

	_, err := r.ReadChunk(3, 4)
	assert.ErrorIs(t, err, ErrChunkNotFound)

	_, err = r.ReadChunk(32, 0)
	assert.ErrorIs(t, err, ErrOutOfBounds)
	assert.ErrorIs(t, r.WriteChunk(-1, 0, []byte{1}), ErrOutOfBounds)
	assert.False(t, r.HasChunk(0, 40))
}

func TestSectorReuse(t *testing.T) {
	opts := DefaultOptions()
	opts.Compression = CompressionNone
	r, _ := openTemp(t, opts)

	// Two sectors, then one sector in place: the tail sector is freed.
	require.NoError(t, r.WriteChunk(0, 0, make([]byte, SectorSize+100)))
	require.NoError(t, r.WriteChunk(1, 0, make([]byte, 100)))
	assert.Equal(t, 0, r.FreeSectors())

	require.NoError(t, r.WriteChunk(0, 0, make([]byte, 100)))
	infos := r.Chunks()
	require.Len(t, infos, 2)
	assert.Equal(t, 2, infos[0].Offset)
	assert.Equal(t, 1, infos[0].Sectors)
	assert.Equal(t, 1, r.FreeSectors())

	// A one-sector chunk fills the hole instead of growing the file.
	require.NoError(t, r.WriteChunk(2, 0, make([]byte, 100)))
	assert.Equal(t, 0, r.FreeSectors())
	for _, ci := range r.Chunks() {
		if ci.X == 2 {
			assert.Equal(t, 3, ci.Offset)
		}
	}

	// Growing a chunk moves it to the end and frees its old run.
	require.NoError(t, r.WriteChunk(0, 0, make([]byte, 2*SectorSize)))
	assert.Equal(t, 1, r.FreeSectors())
}

func TestDeleteChunk(t *testing.T) {
	r, path := openTemp(t, DefaultOptions())
	require.NoError(t, r.WriteChunk(5, 6, []byte("x")))
	require.NoError(t, r.DeleteChunk(5, 6))
	assert.False(t, r.HasChunk(5, 6))
	assert.True(t, r.Timestamp(5, 6).IsZero())
	assert.ErrorIs(t, r.DeleteChunk(5, 6), ErrChunkNotFound)
	require.NoError(t, r.Close())

	r2, err := Open(path, DefaultOptions())
	require.NoError(t, err)
	defer r2.Close()
	_, err = r2.ReadChunk(5, 6)
	assert.ErrorIs(t, err, ErrChunkNotFound)
}

func TestTimestamp(t *testing.T) {
	r, _ := openTemp(t, DefaultOptions())
	at := time.Unix(1700000000, 0)
	r.now = func() time.Time { return at }

	require.NoError(t, r.WriteChunk(1, 2, []byte("x")))
	assert.Equal(t, at, r.Timestamp(1, 2))
	infos := r.Chunks()
	require.Len(t, infos, 1)
	assert.Equal(t, ChunkInfo{X: 1, Z: 2, Offset: 2, Sectors: 1, Modified: at}, infos[0])
}

func TestChunkTooLarge(t *testing.T) {
	opts := DefaultOptions()
	opts.Compression = CompressionNone
	r, _ := openTemp(t, opts)
	err := r.WriteChunk(0, 0, make([]byte, MaxChunkSectors*SectorSize))
	assert.ErrorIs(t, err, ErrChunkTooLarge)
	assert.False(t, r.HasChunk(0, 0))
}

func writeHeaderEntry(t *testing.T, path string, i int, loc uint32) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	require.NoError(t, err)
	defer f.Close()
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], loc)
	_, err = f.WriteAt(b[:], int64(i*4))
	require.NoError(t, err)
}

func TestCorruptEntries(t *testing.T) {
	r, path := openTemp(t, DefaultOptions())
	require.NoError(t, r.WriteChunk(0, 0, []byte("ok")))
	require.NoError(t, r.Close())

	// Points into the header, past the end, and at an unknown compression.
	writeHeaderEntry(t, path, index(1, 0), 1<<8|1)
	writeHeaderEntry(t, path, index(2, 0), 900<<8|1)

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	require.NoError(t, err)
	_, err = f.WriteAt([]byte{0, 0, 0, 2, 9, 0}, 3*SectorSize)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	writeHeaderEntry(t, path, index(3, 0), 3<<8|1)

	r2, err := Open(path, DefaultOptions())
	require.NoError(t, err)
	defer r2.Close()

	_, err = r2.ReadChunk(1, 0)
	assert.ErrorIs(t, err, ErrCorruptRegion)
	_, err = r2.ReadChunk(2, 0)
	assert.ErrorIs(t, err, ErrCorruptRegion)
	_, err = r2.ReadChunk(3, 0)
	assert.ErrorIs(t, err, ErrUnsupportedCompression)

	got, err := r2.ReadChunk(0, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), got)
}

func TestOverlappingEntries(t *testing.T) {
	r, path := openTemp(t, DefaultOptions())
	require.NoError(t, r.WriteChunk(0, 0, []byte("first")))
	require.NoError(t, r.WriteChunk(1, 0, []byte("second")))
	shared := r.locations[index(0, 0)]
	require.NoError(t, r.Close())

	// (1, 0) now claims the sectors of (0, 0).
	writeHeaderEntry(t, path, index(1, 0), shared)

	r2, err := Open(path, DefaultOptions())
	require.NoError(t, err)
	defer r2.Close()

	_, err = r2.ReadChunk(1, 0)
	assert.ErrorIs(t, err, ErrCorruptRegion)

	// Rewriting or deleting the bad entry must not free the sectors it shares.
	require.NoError(t, r2.WriteChunk(1, 0, randomPayload(7, 6000)))
	require.NoError(t, r2.DeleteChunk(1, 0))
	require.NoError(t, r2.WriteChunk(2, 0, randomPayload(8, 6000)))

	got, err := r2.ReadChunk(0, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), got)
	got, err = r2.ReadChunk(2, 0)
	require.NoError(t, err)
	assert.Equal(t, randomPayload(8, 6000), got)
}

func TestTruncatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "r.0.0.mca")
	require.NoError(t, os.WriteFile(path, make([]byte, 100), 0o644))
	_, err := Open(path, DefaultOptions())
	assert.ErrorIs(t, err, ErrCorruptRegion)
}

func TestClosedRegion(t *testing.T) {
	r, _ := openTemp(t, DefaultOptions())
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
	_, err := r.ReadChunk(0, 0)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, r.WriteChunk(0, 0, []byte{1}), ErrClosed)
}

func TestManyChunksSurviveRewrites(t *testing.T) {
	r, path := openTemp(t, DefaultOptions())
	want := map[int][]byte{}
	rng := rand.New(rand.NewSource(42))
	for round := 0; round < 3; round++ {
		for i := 0; i < 64; i++ {
			x, z := rng.Intn(Width), rng.Intn(Width)
			p := randomPayload(int64(round*100+i), rng.Intn(3*SectorSize))
			require.NoError(t, r.WriteChunk(x, z, p))
			want[index(x, z)] = p
		}
	}
	require.NoError(t, r.Close())

	r2, err := Open(path, DefaultOptions())
	require.NoError(t, err)
	defer r2.Close()
	for i, p := range want {
		got, err := r2.ReadChunk(i%Width, i/Width)
		require.NoError(t, err)
		assert.True(t, bytes.Equal(p, got), "chunk %d", i)
	}
	assert.Len(t, r2.Chunks(), len(want))
}
