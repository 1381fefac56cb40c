package fatfs

import (
	"errors"
	"os"
	"sort"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/afero"

	"github.com/gokrazy/diskimg/diskimage"
	"github.com/gokrazy/diskimg/fat"
)

func testFS(t *testing.T) *FS {
	t.Helper()
	img := diskimage.NewMemory(1 << 20)
	b := fat.NewBuilder()
	mod := time.Date(2024, 6, 15, 12, 34, 56, 0, time.UTC)
	for name, data := range map[string][]byte{
		"HELLO.TXT":     []byte("hello, world\n"),
		"DOCS/NOTE.TXT": []byte("nested file\n"),
	} {
		if err := b.WriteFile(name, data, mod); err != nil {
			t.Fatal(err)
		}
	}
	if err := b.Build(img, 0, img.Size()); err != nil {
		t.Fatal(err)
	}
	vol, err := fat.Open(img, 0, img.Size())
	if err != nil {
		t.Fatal(err)
	}
	return New(vol)
}

func TestReadFile(t *testing.T) {
	t.Parallel()

	fs := testFS(t)
	got, err := afero.ReadFile(fs, "DOCS/NOTE.TXT")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "nested file\n" {
		t.Errorf("ReadFile = %q, want %q", got, "nested file\n")
	}
}

func TestReaddir(t *testing.T) {
	t.Parallel()

	fs := testFS(t)
	f, err := fs.Open("/")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { f.Close() })
	infos, err := f.Readdir(-1)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, info := range infos {
		names = append(names, info.Name())
	}
	sort.Strings(names)
	if diff := cmp.Diff([]string{"DOCS", "HELLO.TXT"}, names); diff != "" {
		t.Fatalf("unexpected root listing: diff (-want +got):\n%s", diff)
	}
}

func TestStat(t *testing.T) {
	t.Parallel()

	fs := testFS(t)
	info, err := fs.Stat("HELLO.TXT")
	if err != nil {
		t.Fatal(err)
	}
	if info.IsDir() {
		t.Error("IsDir() = true for a regular file")
	}
	if got, want := info.Size(), int64(len("hello, world\n")); got != want {
		t.Errorf("Size() = %d, want %d", got, want)
	}

	dir, err := fs.Stat("DOCS")
	if err != nil {
		t.Fatal(err)
	}
	if !dir.IsDir() {
		t.Error("IsDir() = false for a directory")
	}
}

func TestNotExist(t *testing.T) {
	t.Parallel()

	fs := testFS(t)
	_, err := fs.Open("NO/SUCH.TXT")
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Open of missing path = %v, want os.ErrNotExist", err)
	}
}

func TestWriteOperationsFail(t *testing.T) {
	t.Parallel()

	fs := testFS(t)
	if _, err := fs.Create("NEW.TXT"); !errors.Is(err, ErrReadOnly) {
		t.Errorf("Create = %v, want ErrReadOnly", err)
	}
	if err := fs.Mkdir("NEWDIR", 0o755); !errors.Is(err, ErrReadOnly) {
		t.Errorf("Mkdir = %v, want ErrReadOnly", err)
	}
	if err := fs.Remove("HELLO.TXT"); !errors.Is(err, ErrReadOnly) {
		t.Errorf("Remove = %v, want ErrReadOnly", err)
	}
	if _, err := fs.OpenFile("HELLO.TXT", os.O_RDWR, 0); !errors.Is(err, ErrReadOnly) {
		t.Errorf("OpenFile(O_RDWR) = %v, want ErrReadOnly", err)
	}

	f, err := fs.Open("HELLO.TXT")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { f.Close() })
	if _, err := f.Write([]byte("nope")); !errors.Is(err, ErrReadOnly) {
		t.Errorf("Write = %v, want ErrReadOnly", err)
	}
}

func TestSeekAndReadAt(t *testing.T) {
	t.Parallel()

	fs := testFS(t)
	f, err := fs.Open("HELLO.TXT")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { f.Close() })

	if _, err := f.Seek(7, 0); err != nil {
		t.Fatal(err)
	}
	p := make([]byte, 5)
	if _, err := f.Read(p); err != nil {
		t.Fatal(err)
	}
	if string(p) != "world" {
		t.Errorf("Read after Seek = %q, want %q", p, "world")
	}

	if _, err := f.ReadAt(p, 0); err != nil {
		t.Fatal(err)
	}
	if string(p) != "hello" {
		t.Errorf("ReadAt(0) = %q, want %q", p, "hello")
	}
}
