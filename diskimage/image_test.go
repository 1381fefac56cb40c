package diskimage

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"
)

func TestRangeChecks(t *testing.T) {
	t.Parallel()

	img := NewMemory(4 * SectorSize)
	for _, tt := range []struct {
		name string
		off  int64
		n    int
	}{
		{"past end", 4 * SectorSize, 1},
		{"straddling end", 4*SectorSize - 10, 20},
		{"negative offset", -1, 1},
	} {
		t.Run(tt.name, func(t *testing.T) {
			err := img.ReadAt(make([]byte, tt.n), tt.off)
			if !errors.Is(err, ErrOutOfBounds) {
				t.Errorf("ReadAt(%d, %d) = %v, want ErrOutOfBounds", tt.off, tt.n, err)
			}
			err = img.WriteAt(make([]byte, tt.n), tt.off)
			if !errors.Is(err, ErrOutOfBounds) {
				t.Errorf("WriteAt(%d, %d) = %v, want ErrOutOfBounds", tt.off, tt.n, err)
			}
		})
	}
}

func TestLBARoundTrip(t *testing.T) {
	t.Parallel()

	img := NewMemory(8 * SectorSize)
	want := bytes.Repeat([]byte{0xAB}, 2*SectorSize)
	if err := img.WriteLBA(want, 3); err != nil {
		t.Fatal(err)
	}
	got, err := img.ReadLBA(3, 2)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("ReadLBA(3, 2) returned unexpected data")
	}
	if got, want := img.Sectors(), int64(8); got != want {
		t.Errorf("Sectors() = %d, want %d", got, want)
	}
}

func TestOpenIsReadOnly(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "img")
	img, err := Create(path, 2*SectorSize)
	if err != nil {
		t.Fatal(err)
	}
	if err := img.WriteLBA([]byte{1, 2, 3}, 0); err != nil {
		t.Fatal(err)
	}
	if err := img.Close(); err != nil {
		t.Fatal(err)
	}

	ro, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ro.Close() })
	if got, want := ro.Size(), int64(2*SectorSize); got != want {
		t.Fatalf("Size() = %d, want %d", got, want)
	}
	p := make([]byte, 3)
	if err := ro.ReadAt(p, 0); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(p, []byte{1, 2, 3}) {
		t.Errorf("ReadAt(0) = %v, want [1 2 3]", p)
	}
	if err := ro.WriteAt(p, 0); !errors.Is(err, ErrReadOnly) {
		t.Errorf("WriteAt on read-only image = %v, want ErrReadOnly", err)
	}
}

func TestFromBytes(t *testing.T) {
	t.Parallel()

	backing := make([]byte, SectorSize)
	img := FromBytes(backing)
	if err := img.WriteAt([]byte{0x42}, 100); err != nil {
		t.Fatal(err)
	}
	if backing[100] != 0x42 {
		t.Errorf("WriteAt did not reach the backing slice")
	}
}
