// Package region reads and writes Anvil region files: 32×32 chunk columns
// stored in 4 KiB sectors behind a location table and a timestamp table.
package region

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/bits-and-blooms/bitset"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
)

const (
	// SectorSize is the allocation unit of a region file.
	SectorSize = 4096
	// MaxChunkSectors is the largest run a location entry can describe.
	MaxChunkSectors = 255

	headerSectors = 2
	entries       = Width * Width
	maxOffset     = 1<<24 - 1
	blobHeader    = 5
)

var (
	ErrChunkNotFound          = errors.New("region: chunk not present")
	ErrChunkTooLarge          = errors.New("region: chunk exceeds 255 sectors")
	ErrCorruptRegion          = errors.New("region: corrupt region file")
	ErrUnsupportedCompression = errors.New("region: unsupported compression type")
	ErrOutOfBounds            = errors.New("region: local coordinates out of range")
	ErrRegionFull             = errors.New("region: sector offset overflow")
	ErrClosed                 = errors.New("region: file closed")
)

// Compression is the per-chunk compression scheme byte.
type Compression byte

const (
	CompressionGzip Compression = 1
	CompressionZlib Compression = 2
	CompressionNone Compression = 3
)

func (c Compression) String() string {
	switch c {
	case CompressionGzip:
		return "gzip"
	case CompressionZlib:
		return "zlib"
	case CompressionNone:
		return "none"
	}
	return fmt.Sprintf("Compression(%d)", byte(c))
}

// Options control how chunks are written.
type Options struct {
	// Compression used for new writes; reads accept every supported type.
	Compression Compression
	// Level is the deflate level for gzip and zlib.
	Level int
	// ReadOnly opens the file without write access and never creates it.
	ReadOnly bool
}

// DefaultOptions writes zlib at the default level, as vanilla does.
func DefaultOptions() Options {
	return Options{Compression: CompressionZlib, Level: zlib.DefaultCompression}
}

// ChunkInfo describes one stored chunk.
type ChunkInfo struct {
	X, Z     int
	Offset   int
	Sectors  int
	Modified time.Time
}

// Region is an open region file. All operations are serialised by an internal
// mutex so the file has exactly one writer.
type Region struct {
	mu   sync.Mutex
	f    *os.File
	path string
	opts Options

	locations  [entries]uint32
	timestamps [entries]uint32
	used       *bitset.BitSet
	// overlaps marks entries whose sectors an earlier entry already claims.
	overlaps *bitset.BitSet
	sectors  uint
	closed   bool

	now func() time.Time
}

// Open opens or creates the region file at path and indexes its sectors.
func Open(path string, opts Options) (*Region, error) {
	if opts.Compression == 0 {
		opts.Compression = CompressionZlib
	}
	flag := os.O_RDWR | os.O_CREATE
	if opts.ReadOnly {
		flag = os.O_RDONLY
	}
	f, err := os.OpenFile(path, flag, 0o644)
	if err != nil {
		return nil, fmt.Errorf("region: open %s: %w", path, err)
	}
	r := &Region{
		f:    f,
		path: path,
		opts: opts,
		used:     bitset.New(headerSectors),
		overlaps: bitset.New(entries),
		now:      time.Now,
	}
	if err := r.load(); err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

func (r *Region) load() error {
	info, err := r.f.Stat()
	if err != nil {
		return fmt.Errorf("region: stat %s: %w", r.path, err)
	}
	size := info.Size()

	if size == 0 && !r.opts.ReadOnly {
		if _, err := r.f.WriteAt(make([]byte, headerSectors*SectorSize), 0); err != nil {
			return fmt.Errorf("region: write header: %w", err)
		}
		size = headerSectors * SectorSize
	}
	if size == 0 {
		r.sectors = headerSectors
	} else {
		if size < headerSectors*SectorSize {
			return fmt.Errorf("%w: %s is %d bytes", ErrCorruptRegion, r.path, size)
		}
		header := make([]byte, headerSectors*SectorSize)
		if _, err := r.f.ReadAt(header, 0); err != nil {
			return fmt.Errorf("region: read header: %w", err)
		}
		for i := 0; i < entries; i++ {
			r.locations[i] = binary.BigEndian.Uint32(header[i*4:])
			r.timestamps[i] = binary.BigEndian.Uint32(header[SectorSize+i*4:])
		}
		r.sectors = uint((size + SectorSize - 1) / SectorSize)
	}

	r.used.Set(0).Set(1)
	for i, loc := range r.locations {
		off, n := splitLocation(loc)
		// Entries pointing into the header, past the end or into another
		// chunk's sectors are left out of the allocation map; reads of them
		// report corruption.
		if loc == 0 || !r.validRun(off, n) {
			continue
		}
		if r.anyUsed(off, n) {
			r.overlaps.Set(uint(i))
			continue
		}
		r.mark(off, n, true)
	}
	return nil
}

func splitLocation(loc uint32) (offset, count uint) {
	return uint(loc >> 8), uint(loc & 0xFF)
}

func (r *Region) validRun(off, n uint) bool {
	return n > 0 && off >= headerSectors && off+n <= r.sectors
}

func (r *Region) anyUsed(off, n uint) bool {
	for i := off; i < off+n; i++ {
		if r.used.Test(i) {
			return true
		}
	}
	return false
}

// owns reports whether entry i holds a run of sectors nothing else claims.
func (r *Region) owns(i int) bool {
	off, n := splitLocation(r.locations[i])
	return r.locations[i] != 0 && r.validRun(off, n) && !r.overlaps.Test(uint(i))
}

func (r *Region) mark(off, n uint, used bool) {
	for i := off; i < off+n; i++ {
		r.used.SetTo(i, used)
	}
}

// Path returns the file path.
func (r *Region) Path() string { return r.path }

// HasChunk reports whether the location table holds an entry for (x, z).
func (r *Region) HasChunk(x, z int) bool {
	if !inBounds(x, z) {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.locations[index(x, z)] != 0
}

// Timestamp returns the last write time of (x, z), zero if absent.
func (r *Region) Timestamp(x, z int) time.Time {
	if !inBounds(x, z) {
		return time.Time{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	ts := r.timestamps[index(x, z)]
	if ts == 0 {
		return time.Time{}
	}
	return time.Unix(int64(ts), 0)
}

// Chunks lists every stored chunk in index order.
func (r *Region) Chunks() []ChunkInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []ChunkInfo
	for i, loc := range r.locations {
		if loc == 0 {
			continue
		}
		off, n := splitLocation(loc)
		ci := ChunkInfo{X: i % Width, Z: i / Width, Offset: int(off), Sectors: int(n)}
		if ts := r.timestamps[i]; ts != 0 {
			ci.Modified = time.Unix(int64(ts), 0)
		}
		out = append(out, ci)
	}
	return out
}

// ReadChunk returns the decompressed payload of chunk (x, z).
func (r *Region) ReadChunk(x, z int) ([]byte, error) {
	if !inBounds(x, z) {
		return nil, fmt.Errorf("%w: (%d, %d)", ErrOutOfBounds, x, z)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}

	i := index(x, z)
	loc := r.locations[i]
	if loc == 0 {
		return nil, ErrChunkNotFound
	}
	off, n := splitLocation(loc)
	if !r.validRun(off, n) {
		return nil, fmt.Errorf("%w: chunk (%d, %d) at sector %d+%d of %d", ErrCorruptRegion, x, z, off, n, r.sectors)
	}
	if r.overlaps.Test(uint(i)) {
		return nil, fmt.Errorf("%w: chunk (%d, %d) shares sectors with another chunk", ErrCorruptRegion, x, z)
	}

	buf := make([]byte, n*SectorSize)
	m, err := r.f.ReadAt(buf, int64(off)*SectorSize)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("region: read chunk (%d, %d): %w", x, z, err)
	}
	buf = buf[:m]
	if len(buf) < blobHeader {
		return nil, fmt.Errorf("%w: chunk (%d, %d) truncated", ErrCorruptRegion, x, z)
	}

	length := binary.BigEndian.Uint32(buf)
	if length == 0 || uint64(length)+4 > uint64(len(buf)) {
		return nil, fmt.Errorf("%w: chunk (%d, %d) length %d in %d bytes", ErrCorruptRegion, x, z, length, len(buf))
	}
	payload := buf[blobHeader : 4+length]
	return decompress(Compression(buf[4]), payload)
}

func decompress(c Compression, payload []byte) ([]byte, error) {
	var (
		rd  io.ReadCloser
		err error
	)
	switch c {
	case CompressionNone:
		return payload, nil
	case CompressionGzip:
		rd, err = gzip.NewReader(bytes.NewReader(payload))
	case CompressionZlib:
		rd, err = zlib.NewReader(bytes.NewReader(payload))
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedCompression, byte(c))
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptRegion, c, err)
	}
	defer rd.Close()
	out, err := io.ReadAll(rd)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptRegion, c, err)
	}
	return out, nil
}

func (r *Region) compress(payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(blobHeader + len(payload)/2)
	buf.Write([]byte{0, 0, 0, 0, byte(r.opts.Compression)})

	var (
		w   io.WriteCloser
		err error
	)
	switch r.opts.Compression {
	case CompressionNone:
		buf.Write(payload)
	case CompressionGzip:
		w, err = gzip.NewWriterLevel(&buf, r.opts.Level)
	case CompressionZlib:
		w, err = zlib.NewWriterLevel(&buf, r.opts.Level)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedCompression, byte(r.opts.Compression))
	}
	if err != nil {
		return nil, fmt.Errorf("region: %s writer: %w", r.opts.Compression, err)
	}
	if w != nil {
		if _, err := w.Write(payload); err != nil {
			return nil, fmt.Errorf("region: compress: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("region: compress: %w", err)
		}
	}
	blob := buf.Bytes()
	binary.BigEndian.PutUint32(blob, uint32(len(blob)-4))
	return blob, nil
}

// WriteChunk compresses payload and stores it as chunk (x, z). The existing
// run is reused when the new blob fits, otherwise the first free run large
// enough is taken, otherwise the file grows.
func (r *Region) WriteChunk(x, z int, payload []byte) error {
	if !inBounds(x, z) {
		return fmt.Errorf("%w: (%d, %d)", ErrOutOfBounds, x, z)
	}
	blob, err := r.compress(payload)
	if err != nil {
		return err
	}
	need := uint((len(blob) + SectorSize - 1) / SectorSize)
	if need > MaxChunkSectors {
		return fmt.Errorf("%w: %d sectors", ErrChunkTooLarge, need)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}

	i := index(x, z)
	oldOff, oldN := splitLocation(r.locations[i])
	hadRun := r.owns(i)

	inPlace := hadRun && oldN >= need
	off := oldOff
	if !inPlace {
		if hadRun {
			r.mark(oldOff, oldN, false)
		}
		off = r.allocate(need)
	}
	// Until the header is rewritten the old run stays owned by (x, z).
	restore := func() {
		if hadRun {
			r.mark(oldOff, oldN, true)
		}
	}
	if off+need > maxOffset {
		restore()
		return ErrRegionFull
	}

	padded := make([]byte, need*SectorSize)
	copy(padded, blob)
	if _, err := r.f.WriteAt(padded, int64(off)*SectorSize); err != nil {
		restore()
		return fmt.Errorf("region: write chunk (%d, %d): %w", x, z, err)
	}
	if inPlace {
		r.mark(oldOff+need, oldN-need, false)
	}
	r.mark(off, need, true)
	if off+need > r.sectors {
		r.sectors = off + need
	}
	r.overlaps.Clear(uint(i))
	return r.writeEntry(i, uint32(off<<8|need), uint32(r.now().Unix()))
}

// allocate returns the first sector offset where need consecutive sectors are
// free. Everything past the end of the file counts as free.
func (r *Region) allocate(need uint) uint {
	start := uint(headerSectors)
	for {
		i, ok := r.used.NextClear(start)
		if !ok {
			i = r.used.Len()
		}
		j, found := r.used.NextSet(i)
		if !found || j >= i+need {
			return i
		}
		start = j + 1
	}
}

// DeleteChunk removes (x, z) from the location table and frees its sectors.
func (r *Region) DeleteChunk(x, z int) error {
	if !inBounds(x, z) {
		return fmt.Errorf("%w: (%d, %d)", ErrOutOfBounds, x, z)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	i := index(x, z)
	if r.locations[i] == 0 {
		return ErrChunkNotFound
	}
	if r.owns(i) {
		off, n := splitLocation(r.locations[i])
		r.mark(off, n, false)
	}
	r.overlaps.Clear(uint(i))
	return r.writeEntry(i, 0, 0)
}

func (r *Region) writeEntry(i int, loc, ts uint32) error {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], loc)
	if _, err := r.f.WriteAt(b[:], int64(i*4)); err != nil {
		return fmt.Errorf("region: write location: %w", err)
	}
	binary.BigEndian.PutUint32(b[:], ts)
	if _, err := r.f.WriteAt(b[:], int64(SectorSize+i*4)); err != nil {
		return fmt.Errorf("region: write timestamp: %w", err)
	}
	r.locations[i] = loc
	r.timestamps[i] = ts
	return nil
}

// FreeSectors counts unused sectors inside the file.
func (r *Region) FreeSectors() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	used := uint(0)
	for i, ok := r.used.NextSet(0); ok && i < r.sectors; i, ok = r.used.NextSet(i + 1) {
		used++
	}
	return int(r.sectors - used)
}

// Sync flushes the file to stable storage.
func (r *Region) Sync() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.opts.ReadOnly {
		return nil
	}
	return r.f.Sync()
}

// Close syncs and closes the file. Further operations return ErrClosed.
func (r *Region) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	var err error
	if !r.opts.ReadOnly {
		err = r.f.Sync()
	}
	if cerr := r.f.Close(); err == nil {
		err = cerr
	}
	return err
}
