package fat

import (
	"bytes"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/afero"

	"github.com/gokrazy/diskimg/diskimage"
)

var testModTime = time.Date(2024, 6, 15, 12, 34, 56, 0, time.UTC)

func TestBuildAndReadBack(t *testing.T) {
	t.Parallel()

	for _, tt := range []struct {
		size int64
		want Type
	}{
		{1 << 20, TypeFAT12},  // 1 MiB
		{4 << 20, TypeFAT16},  // 4 MiB
		{40 << 20, TypeFAT32}, // 40 MiB
	} {
		tt := tt
		t.Run(tt.want.String(), func(t *testing.T) {
			t.Parallel()

			img := diskimage.NewMemory(tt.size)
			b := NewBuilder()
			b.SetLabel("TESTVOL")
			files := map[string][]byte{
				"HELLO.TXT":            []byte("hello, world\n"),
				"DOCS/NOTE.TXT":        []byte("nested file\n"),
				"DOCS/DEEP/LEAF.TXT":   bytes.Repeat([]byte("leaf"), 500),
				"a long file name.txt": []byte("long name contents\n"),
				"EMPTY.TXT":            nil,
			}
			for name, data := range files {
				if err := b.WriteFile(name, data, testModTime); err != nil {
					t.Fatal(err)
				}
			}
			if err := b.Build(img, 0, tt.size); err != nil {
				t.Fatal(err)
			}

			v, err := Open(img, 0, tt.size)
			if err != nil {
				t.Fatal(err)
			}
			if got := v.Type(); got != tt.want {
				t.Fatalf("Type() = %s, want %s", got, tt.want)
			}
			if got := v.Info().VolumeLabel; got != "TESTVOL" {
				t.Errorf("VolumeLabel = %q, want %q", got, "TESTVOL")
			}

			for name, want := range files {
				e, err := v.Lookup(name)
				if err != nil {
					t.Fatalf("Lookup(%q): %v", name, err)
				}
				got, err := v.ReadFile(e)
				if err != nil {
					t.Fatalf("ReadFile(%q): %v", name, err)
				}
				if !bytes.Equal(got, want) {
					t.Errorf("contents of %q: got %d bytes, want %d", name, len(got), len(want))
				}
				if !e.ModTime.Equal(testModTime.Truncate(2 * time.Second)) {
					t.Errorf("ModTime of %q = %v, want %v", name, e.ModTime, testModTime)
				}
			}
		})
	}
}

func TestBuildLongNameRoundTrip(t *testing.T) {
	t.Parallel()

	img := diskimage.NewMemory(1 << 20)
	b := NewBuilder()
	names := []string{
		"a long file name.txt",
		"Ünïcode nämé.txt",
		"exactly-thirteen.txt", // 20 units, two fragments
	}
	for _, name := range names {
		if err := b.WriteFile(name, []byte(name), testModTime); err != nil {
			t.Fatal(err)
		}
	}
	if err := b.Build(img, 0, img.Size()); err != nil {
		t.Fatal(err)
	}

	v, err := Open(img, 0, img.Size())
	if err != nil {
		t.Fatal(err)
	}
	entries, err := v.ReadRoot()
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	for _, e := range entries {
		got = append(got, e.Name)
	}
	if diff := cmp.Diff(names, got); diff != "" {
		t.Fatalf("unexpected names: diff (-want +got):\n%s", diff)
	}

	// Lookup is case-insensitive and accepts the 8.3 alias too.
	if _, err := v.Lookup("A LONG FILE NAME.TXT"); err != nil {
		t.Errorf("case-insensitive Lookup: %v", err)
	}
	if _, err := v.Lookup("ALONGF~1.TXT"); err != nil {
		t.Errorf("short-name Lookup: %v", err)
	}
}

// Reserved, FAT and root-directory sectors shrink the data region, so
// a capacity just over a type boundary can end up with a data-cluster
// count just under it. The boot sector has to be written for the type
// a reader derives from the final count, or the FAT is encoded with
// the wrong entry width and the volume cannot read back its own files.
func TestBuildTypeMatchesClusterCount(t *testing.T) {
	t.Parallel()

	for _, sectors := range []int64{4084, 4085, 4090, 4142, 65524, 65525, 65700} {
		sectors := sectors
		t.Run(fmt.Sprintf("%dsectors", sectors), func(t *testing.T) {
			t.Parallel()

			size := sectors * 512
			l, err := planLayout(size)
			if err != nil {
				t.Fatal(err)
			}
			if got, want := l.typ, typeForClusterCount(l.clusterCount); got != want {
				t.Fatalf("planned type %s, but %d data clusters decode as %s",
					got, l.clusterCount, want)
			}

			img := diskimage.NewMemory(size)
			b := NewBuilder()
			content := bytes.Repeat([]byte{0x5A}, 3*512+7) // spans several clusters
			if err := b.WriteFile("SPAN.BIN", content, testModTime); err != nil {
				t.Fatal(err)
			}
			if err := b.Build(img, 0, size); err != nil {
				t.Fatal(err)
			}

			v, err := Open(img, 0, size)
			if err != nil {
				t.Fatal(err)
			}
			if got := v.Type(); got != l.typ {
				t.Fatalf("Open decoded %s, builder wrote %s", got, l.typ)
			}
			e, err := v.Lookup("SPAN.BIN")
			if err != nil {
				t.Fatal(err)
			}
			got, err := v.ReadFile(e)
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(got, content) {
				t.Errorf("read back %d bytes, want %d", len(got), len(content))
			}
		})
	}
}

// Building over a range that held data before must not leak stale
// bytes into directory tables: unlike files, directories have no size
// field, so a leftover byte in the table's last cluster would parse
// as an entry.
func TestBuildOverDirtyRange(t *testing.T) {
	t.Parallel()

	size := int64(1 << 20)
	img := diskimage.NewMemory(size)
	noise := bytes.Repeat([]byte{0x23}, int(size))
	if err := img.WriteAt(noise, 0); err != nil {
		t.Fatal(err)
	}

	b := NewBuilder()
	if err := b.WriteFile("A.TXT", []byte("a"), testModTime); err != nil {
		t.Fatal(err)
	}
	if err := b.WriteFile("SUB/FILE.TXT", []byte("inner"), testModTime); err != nil {
		t.Fatal(err)
	}
	if err := b.Build(img, 0, size); err != nil {
		t.Fatal(err)
	}

	v, err := Open(img, 0, size)
	if err != nil {
		t.Fatal(err)
	}
	root, err := v.ReadRoot()
	if err != nil {
		t.Fatal(err)
	}
	var rootNames []string
	for _, e := range root {
		rootNames = append(rootNames, e.Name)
	}
	if diff := cmp.Diff([]string{"A.TXT", "SUB"}, rootNames); diff != "" {
		t.Fatalf("unexpected root entries: diff (-want +got):\n%s", diff)
	}

	sub, err := v.Lookup("SUB")
	if err != nil {
		t.Fatal(err)
	}
	entries, err := v.ReadDir(sub.FirstCluster)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name != "FILE.TXT" {
		t.Fatalf("ReadDir(SUB) = %v, want only FILE.TXT", entries)
	}
	e, err := v.Lookup("SUB/FILE.TXT")
	if err != nil {
		t.Fatal(err)
	}
	got, err := v.ReadFile(e)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "inner" {
		t.Errorf("contents = %q, want %q", got, "inner")
	}
}

func TestBuildDotEntries(t *testing.T) {
	t.Parallel()

	img := diskimage.NewMemory(1 << 20)
	b := NewBuilder()
	if err := b.WriteFile("SUB/FILE.TXT", []byte("x"), testModTime); err != nil {
		t.Fatal(err)
	}
	if err := b.Build(img, 0, img.Size()); err != nil {
		t.Fatal(err)
	}
	v, err := Open(img, 0, img.Size())
	if err != nil {
		t.Fatal(err)
	}
	sub, err := v.Lookup("SUB")
	if err != nil {
		t.Fatal(err)
	}

	// The raw table starts with . and .. which directory listings hide.
	raw, err := v.readCluster(sub.FirstCluster)
	if err != nil {
		t.Fatal(err)
	}
	if got := shortNameString(raw[0:11]); got != "." {
		t.Errorf("first raw entry = %q, want %q", got, ".")
	}
	if got := shortNameString(raw[32:43]); got != ".." {
		t.Errorf("second raw entry = %q, want %q", got, "..")
	}
	entries, err := v.ReadDir(sub.FirstCluster)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name != "FILE.TXT" {
		t.Fatalf("ReadDir(SUB) = %v, want only FILE.TXT", entries)
	}
}

func TestBuildAddFS(t *testing.T) {
	t.Parallel()

	src := afero.NewMemMapFs()
	if err := src.MkdirAll("tree/sub", 0o755); err != nil {
		t.Fatal(err)
	}
	if err := afero.WriteFile(src, "tree/top.txt", []byte("top"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := afero.WriteFile(src, "tree/sub/inner.txt", []byte("inner"), 0o644); err != nil {
		t.Fatal(err)
	}

	img := diskimage.NewMemory(1 << 20)
	b := NewBuilder()
	if err := b.AddFS(src, "tree"); err != nil {
		t.Fatal(err)
	}
	files, dirs, contentBytes := b.Stats()
	if files != 2 || dirs != 1 || contentBytes != 8 {
		t.Errorf("Stats() = %d files, %d dirs, %d bytes; want 2, 1, 8", files, dirs, contentBytes)
	}
	if err := b.Build(img, 0, img.Size()); err != nil {
		t.Fatal(err)
	}

	v, err := Open(img, 0, img.Size())
	if err != nil {
		t.Fatal(err)
	}
	e, err := v.Lookup("sub/inner.txt")
	if err != nil {
		t.Fatal(err)
	}
	got, err := v.ReadFile(e)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "inner" {
		t.Errorf("contents = %q, want %q", got, "inner")
	}
}

func TestBuildNoSpace(t *testing.T) {
	t.Parallel()

	img := diskimage.NewMemory(64 * 1024)
	b := NewBuilder()
	if err := b.WriteFile("BIG.BIN", make([]byte, 1<<20), testModTime); err != nil {
		t.Fatal(err)
	}
	err := b.Build(img, 0, img.Size())
	if !errors.Is(err, ErrNoSpace) {
		t.Fatalf("Build = %v, want ErrNoSpace", err)
	}
}

func TestBuildRootDirectoryFull(t *testing.T) {
	t.Parallel()

	img := diskimage.NewMemory(1 << 20)
	b := NewBuilder()
	for i := 0; i < builderRootEntries+1; i++ {
		if err := b.WriteFile(fmt.Sprintf("F%d.TXT", i), []byte("x"), testModTime); err != nil {
			t.Fatal(err)
		}
	}
	err := b.Build(img, 0, img.Size())
	if !errors.Is(err, ErrNoSpace) {
		t.Fatalf("Build with overfull root = %v, want ErrNoSpace", err)
	}
}

func TestReadFileCapacityExceeded(t *testing.T) {
	t.Parallel()

	v := buildTestVolume(t, 1<<20)
	e, err := v.Lookup("HELLO.TXT")
	if err != nil {
		t.Fatal(err)
	}
	// Claim more bytes than the single-cluster chain can hold.
	e.Size = uint32(v.ClusterSize()) + 1
	if _, err := v.ReadFile(e); !errors.Is(err, ErrCapacityExceeded) {
		t.Errorf("ReadFile with inflated size = %v, want ErrCapacityExceeded", err)
	}

	// A nonzero size without any chain is equally inconsistent.
	e.FirstCluster = 0
	e.Size = 10
	if _, err := v.ReadFile(e); !errors.Is(err, ErrCapacityExceeded) {
		t.Errorf("ReadFile without chain = %v, want ErrCapacityExceeded", err)
	}
}

func TestOpenRejectsGarbage(t *testing.T) {
	t.Parallel()

	img := diskimage.NewMemory(1 << 20)
	if _, err := Open(img, 0, img.Size()); !errors.Is(err, ErrInvalidBootSector) {
		t.Errorf("Open of zeroed image = %v, want ErrInvalidBootSector", err)
	}
}
