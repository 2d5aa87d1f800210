package proto

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"golang.org/x/sys/unix"
)

const (
	// SegmentPrefix starts the name of every bulk segment.
	SegmentPrefix = "hotswap-"
	// ZstdSuffix marks the format of a compressed segment.
	ZstdSuffix = "+zstd"
	shmDir     = "/dev/shm"
)

var (
	encoder = sync.OnceValues(func() (*zstd.Encoder, error) {
		return zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	})
	decoder = sync.OnceValues(func() (*zstd.Decoder, error) {
		return zstd.NewReader(nil)
	})
)

// NewSegmentName returns a fresh segment name.
func NewSegmentName() string {
	return SegmentPrefix + uuid.NewString()
}

// Segments stores bulk payloads as files mapped shared into both processes.
type Segments struct {
	Dir      string //empty for /dev/shm, or the temporary directory where it is missing
	Compress bool
}

func (s Segments) dir() string {
	if s.Dir != "" {
		return s.Dir
	}
	if st, err := os.Stat(shmDir); err == nil && st.IsDir() {
		return shmDir
	}
	return os.TempDir()
}

func (s Segments) path(name string) (string, error) {
	if !strings.HasPrefix(name, SegmentPrefix) || filepath.Base(name) != name {
		return "", fmt.Errorf("invalid segment name %q", name)
	}
	return filepath.Join(s.dir(), name), nil
}

// Put writes data into a new segment and returns its descriptor.
// Width and Height are left to the caller.
func (s Segments) Put(data []byte, format string) (d ImageReady, err error) {
	if s.Compress {
		var enc *zstd.Encoder
		if enc, err = encoder(); err != nil {
			return
		}
		data = enc.EncodeAll(data, nil)
		format += ZstdSuffix
	}
	d = ImageReady{BufferName: NewSegmentName(), Size: int64(len(data)), Format: format}
	p, _ := s.path(d.BufferName)
	f, err := os.OpenFile(p, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return d, fmt.Errorf("create segment: %w", err)
	}
	defer f.Close()
	if len(data) == 0 {
		return
	}
	if err = f.Truncate(int64(len(data))); err != nil {
		_ = os.Remove(p)
		return d, fmt.Errorf("size segment: %w", err)
	}
	mem, err := unix.Mmap(int(f.Fd()), 0, len(data), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = os.Remove(p)
		return d, fmt.Errorf("map segment: %w", err)
	}
	copy(mem, data)
	return d, unix.Munmap(mem)
}

// Get reads the payload a descriptor points to, decompressing it when its format says so.
func (s Segments) Get(d ImageReady) ([]byte, error) {
	p, err := s.path(d.BufferName)
	if err != nil {
		return nil, err
	}
	if d.Offset < 0 || d.Size < 0 {
		return nil, fmt.Errorf("invalid segment range %d+%d", d.Offset, d.Size)
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, fmt.Errorf("open segment: %w", err)
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if d.Offset+d.Size > st.Size() {
		return nil, fmt.Errorf("segment %s holds %d bytes, descriptor wants %d+%d", d.BufferName, st.Size(), d.Offset, d.Size)
	}
	data := make([]byte, d.Size)
	if d.Size > 0 {
		mem, err := unix.Mmap(int(f.Fd()), 0, int(d.Offset+d.Size), unix.PROT_READ, unix.MAP_SHARED)
		if err != nil {
			return nil, fmt.Errorf("map segment: %w", err)
		}
		copy(data, mem[d.Offset:])
		if err = unix.Munmap(mem); err != nil {
			return nil, err
		}
	}
	if strings.HasSuffix(d.Format, ZstdSuffix) {
		dec, err := decoder()
		if err != nil {
			return nil, err
		}
		return dec.DecodeAll(data, nil)
	}
	return data, nil
}

// Remove the segment of a descriptor.
func (s Segments) Remove(d ImageReady) error {
	p, err := s.path(d.BufferName)
	if err != nil {
		return err
	}
	return os.Remove(p)
}
