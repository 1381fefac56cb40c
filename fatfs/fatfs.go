// Package fatfs exposes a FAT volume as a read-only afero.Fs, so that
// code written against afero (archivers, template loaders, tests) can
// consume volume contents without knowing about clusters.
package fatfs

import (
	"errors"
	"io"
	"os"
	"path"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/afero"

	"github.com/gokrazy/diskimg/diskimage"
	"github.com/gokrazy/diskimg/fat"
)

// ErrReadOnly is returned by every mutating operation.
var ErrReadOnly = diskimage.ErrReadOnly

// FS adapts a fat.Volume to afero.Fs. All operations that would
// modify the volume fail with ErrReadOnly.
type FS struct {
	vol *fat.Volume
}

var _ afero.Fs = (*FS)(nil)

// New wraps an open volume.
func New(vol *fat.Volume) *FS {
	return &FS{vol: vol}
}

func (fs *FS) Name() string { return "fatfs" }

func (fs *FS) Open(name string) (afero.File, error) {
	name = strings.Trim(path.Clean("/"+name), "/")
	if name == "" || name == "." {
		entries, err := fs.vol.ReadRoot()
		if err != nil {
			return nil, &os.PathError{Op: "open", Path: "/", Err: err}
		}
		return &file{name: "/", isDir: true, entries: entries, modTime: time.Time{}}, nil
	}

	e, err := fs.vol.Lookup(name)
	if err != nil {
		if errors.Is(err, fat.ErrNotFound) {
			return nil, &os.PathError{Op: "open", Path: name, Err: os.ErrNotExist}
		}
		return nil, &os.PathError{Op: "open", Path: name, Err: err}
	}
	f := &file{name: e.Name, size: int64(e.Size), modTime: e.ModTime}
	if e.IsDir() {
		f.isDir = true
		if f.entries, err = fs.vol.ReadDir(e.FirstCluster); err != nil {
			return nil, &os.PathError{Op: "open", Path: name, Err: err}
		}
		return f, nil
	}
	if f.data, err = fs.vol.ReadFile(e); err != nil {
		return nil, &os.PathError{Op: "open", Path: name, Err: err}
	}
	return f, nil
}

func (fs *FS) OpenFile(name string, flag int, _ os.FileMode) (afero.File, error) {
	if flag&(os.O_WRONLY|os.O_RDWR|os.O_APPEND|os.O_CREATE|os.O_TRUNC) != 0 {
		return nil, &os.PathError{Op: "open", Path: name, Err: ErrReadOnly}
	}
	return fs.Open(name)
}

func (fs *FS) Stat(name string) (os.FileInfo, error) {
	f, err := fs.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return f.Stat()
}

func (fs *FS) Create(name string) (afero.File, error) {
	return nil, &os.PathError{Op: "create", Path: name, Err: ErrReadOnly}
}

func (fs *FS) Mkdir(name string, _ os.FileMode) error {
	return &os.PathError{Op: "mkdir", Path: name, Err: ErrReadOnly}
}

func (fs *FS) MkdirAll(p string, _ os.FileMode) error {
	return &os.PathError{Op: "mkdir", Path: p, Err: ErrReadOnly}
}

func (fs *FS) Remove(name string) error {
	return &os.PathError{Op: "remove", Path: name, Err: ErrReadOnly}
}

func (fs *FS) RemoveAll(p string) error {
	return &os.PathError{Op: "remove", Path: p, Err: ErrReadOnly}
}

func (fs *FS) Rename(oldname, newname string) error {
	return &os.LinkError{Op: "rename", Old: oldname, New: newname, Err: ErrReadOnly}
}

func (fs *FS) Chmod(name string, _ os.FileMode) error {
	return &os.PathError{Op: "chmod", Path: name, Err: ErrReadOnly}
}

func (fs *FS) Chown(name string, _, _ int) error {
	return &os.PathError{Op: "chown", Path: name, Err: ErrReadOnly}
}

func (fs *FS) Chtimes(name string, _, _ time.Time) error {
	return &os.PathError{Op: "chtimes", Path: name, Err: ErrReadOnly}
}

// file holds fully-read contents (for regular files) or the decoded
// entry list (for directories).
type file struct {
	name    string
	size    int64
	modTime time.Time

	data   []byte
	offset int64

	isDir   bool
	entries []fat.DirEntry
	dirPos  int
}

var _ afero.File = (*file)(nil)

func (f *file) Name() string { return f.name }

func (f *file) Close() error { return nil }

func (f *file) Read(p []byte) (int, error) {
	if f.isDir {
		return 0, &os.PathError{Op: "read", Path: f.name, Err: syscall.EISDIR}
	}
	if f.offset >= int64(len(f.data)) {
		return 0, io.EOF
	}
	n := copy(p, f.data[f.offset:])
	f.offset += int64(n)
	return n, nil
}

func (f *file) ReadAt(p []byte, off int64) (int, error) {
	if f.isDir {
		return 0, &os.PathError{Op: "read", Path: f.name, Err: syscall.EISDIR}
	}
	if off < 0 || off >= int64(len(f.data)) {
		return 0, io.EOF
	}
	n := copy(p, f.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (f *file) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = f.offset + offset
	case io.SeekEnd:
		abs = int64(len(f.data)) + offset
	default:
		return 0, &os.PathError{Op: "seek", Path: f.name, Err: os.ErrInvalid}
	}
	if abs < 0 {
		return 0, &os.PathError{Op: "seek", Path: f.name, Err: os.ErrInvalid}
	}
	f.offset = abs
	return abs, nil
}

func (f *file) Readdir(count int) ([]os.FileInfo, error) {
	if !f.isDir {
		return nil, &os.PathError{Op: "readdir", Path: f.name, Err: syscall.ENOTDIR}
	}
	remaining := f.entries[f.dirPos:]
	if count > 0 {
		if len(remaining) == 0 {
			return nil, io.EOF
		}
		if count < len(remaining) {
			remaining = remaining[:count]
		}
	}
	f.dirPos += len(remaining)
	infos := make([]os.FileInfo, len(remaining))
	for i := range remaining {
		infos[i] = &fileInfo{e: remaining[i]}
	}
	return infos, nil
}

func (f *file) Readdirnames(n int) ([]string, error) {
	infos, err := f.Readdir(n)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(infos))
	for i, info := range infos {
		names[i] = info.Name()
	}
	return names, nil
}

func (f *file) Stat() (os.FileInfo, error) {
	e := fat.DirEntry{Name: f.name, Size: uint32(f.size), ModTime: f.modTime}
	if f.isDir {
		e.Attr = fat.AttrDirectory
	}
	return &fileInfo{e: e}, nil
}

func (f *file) Write(p []byte) (int, error) {
	return 0, &os.PathError{Op: "write", Path: f.name, Err: ErrReadOnly}
}

func (f *file) WriteAt(p []byte, off int64) (int, error) {
	return 0, &os.PathError{Op: "write", Path: f.name, Err: ErrReadOnly}
}

func (f *file) WriteString(s string) (int, error) {
	return 0, &os.PathError{Op: "write", Path: f.name, Err: ErrReadOnly}
}

func (f *file) Truncate(int64) error {
	return &os.PathError{Op: "truncate", Path: f.name, Err: ErrReadOnly}
}

func (f *file) Sync() error { return nil }

// fileInfo implements os.FileInfo over a directory entry.
type fileInfo struct {
	e fat.DirEntry
}

func (fi *fileInfo) Name() string { return fi.e.Name }

func (fi *fileInfo) Size() int64 { return int64(fi.e.Size) }

func (fi *fileInfo) Mode() os.FileMode {
	if fi.e.IsDir() {
		return os.ModeDir | 0o555
	}
	return 0o444
}

func (fi *fileInfo) ModTime() time.Time { return fi.e.ModTime }

func (fi *fileInfo) IsDir() bool { return fi.e.IsDir() }

func (fi *fileInfo) Sys() interface{} { return nil }
