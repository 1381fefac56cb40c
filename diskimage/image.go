// Package diskimage provides random access to fixed-size disk images.
// An image is a flat byte store addressed by byte offset or by LBA
// (512-byte logical block). All accesses are range-checked against the
// image length; images never grow implicitly.
package diskimage

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// SectorSize is the logical block size used for LBA addressing.
const SectorSize = 512

var (
	ErrOutOfBounds = errors.New("diskimage: access out of bounds")
	ErrReadOnly    = errors.New("diskimage: image is read-only")
)

type Image struct {
	r      io.ReaderAt
	w      io.WriterAt // nil for read-only images
	size   int64
	closer io.Closer
}

// Open opens an existing image read-only. The image length is taken
// from the file size, or from the block device size if path names a
// device.
func Open(path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	size, err := storeSize(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &Image{r: f, size: size, closer: f}, nil
}

// Create creates (or truncates) an image file of exactly size bytes
// and opens it for reading and writing.
func Create(path string, size int64) (*Image, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, err
	}
	if err := f.Truncate(size); err != nil {
		f.Close()
		return nil, err
	}
	return &Image{r: f, w: f, size: size, closer: f}, nil
}

// NewMemory returns a zero-filled in-memory image of the given size.
func NewMemory(size int64) *Image {
	b := byteStore(make([]byte, size))
	return &Image{r: b, w: b, size: size}
}

// FromBytes wraps b as a writable in-memory image.
func FromBytes(b []byte) *Image {
	s := byteStore(b)
	return &Image{r: s, w: s, size: int64(len(b))}
}

func storeSize(f *os.File) (int64, error) {
	fi, err := f.Stat()
	if err != nil {
		return 0, err
	}
	if fi.Mode()&os.ModeDevice != 0 {
		if size, ok := deviceSize(f); ok {
			return size, nil
		}
	}
	return fi.Size(), nil
}

func (img *Image) Size() int64 { return img.size }

// Sectors returns the image length in logical blocks.
func (img *Image) Sectors() int64 { return img.size / SectorSize }

func (img *Image) checkRange(off, n int64) error {
	if off < 0 || n < 0 || off+n > img.size {
		return fmt.Errorf("%w: [%d, %d) outside image of %d bytes",
			ErrOutOfBounds, off, off+n, img.size)
	}
	return nil
}

// ReadAt fills p from the image starting at byte offset off. Unlike
// io.ReaderAt, a short read is always an error.
func (img *Image) ReadAt(p []byte, off int64) error {
	if err := img.checkRange(off, int64(len(p))); err != nil {
		return err
	}
	if _, err := img.r.ReadAt(p, off); err != nil {
		return fmt.Errorf("diskimage: read at %d: %w", off, err)
	}
	return nil
}

// ReadLBA reads count logical blocks starting at the given LBA.
func (img *Image) ReadLBA(lba, count int64) ([]byte, error) {
	p := make([]byte, count*SectorSize)
	if err := img.ReadAt(p, lba*SectorSize); err != nil {
		return nil, err
	}
	return p, nil
}

// WriteAt writes p to the image at byte offset off.
func (img *Image) WriteAt(p []byte, off int64) error {
	if img.w == nil {
		return ErrReadOnly
	}
	if err := img.checkRange(off, int64(len(p))); err != nil {
		return err
	}
	if _, err := img.w.WriteAt(p, off); err != nil {
		return fmt.Errorf("diskimage: write at %d: %w", off, err)
	}
	return nil
}

// WriteLBA writes p starting at the given LBA.
func (img *Image) WriteLBA(p []byte, lba int64) error {
	return img.WriteAt(p, lba*SectorSize)
}

func (img *Image) Close() error {
	if img.closer == nil {
		return nil
	}
	return img.closer.Close()
}

// byteStore adapts a byte slice to io.ReaderAt/io.WriterAt. Range
// checks happen in Image before the store is reached.
type byteStore []byte

func (b byteStore) ReadAt(p []byte, off int64) (int, error) {
	return copy(p, b[off:]), nil
}

func (b byteStore) WriteAt(p []byte, off int64) (int, error) {
	return copy(b[off:], p), nil
}
