package fat

import (
	"fmt"
	"strings"

	"github.com/gokrazy/diskimg/diskimage"
)

// Volume provides read access to one FAT file system inside a byte
// range of an image. The boot sector is decoded once at Open; FAT
// entries and directory records are read lazily per operation.
type Volume struct {
	img    *diskimage.Image
	start  int64
	length int64

	geo *geometry
}

// Open decodes and validates the boot sector found at the beginning
// of the given byte range.
func Open(img *diskimage.Image, start, length int64) (*Volume, error) {
	if length < diskimage.SectorSize {
		return nil, fmt.Errorf("%w: byte range of %d bytes", ErrInvalidBootSector, length)
	}
	raw := make([]byte, diskimage.SectorSize)
	if err := img.ReadAt(raw, start); err != nil {
		return nil, err
	}
	geo, err := parseBootSector(raw)
	if err != nil {
		return nil, err
	}
	if total := int64(geo.totalSectors) * int64(geo.bytesPerSector); total > length {
		return nil, fmt.Errorf("%w: volume of %d bytes exceeds byte range of %d bytes",
			ErrInvalidBootSector, total, length)
	}
	return &Volume{img: img, start: start, length: length, geo: geo}, nil
}

// Info reports the decoded boot-sector fields of the volume.
type Info struct {
	Type              Type
	BytesPerSector    uint32
	SectorsPerCluster uint32
	ReservedSectors   uint32
	NumFATs           uint32
	FATSectors        uint32
	RootEntryCount    uint32
	TotalSectors      uint32
	ClusterCount      uint32
	RootCluster       uint32
	FSInfoSector      uint16
	VolumeLabel       string
}

func (v *Volume) Info() Info {
	g := v.geo
	return Info{
		Type:              g.typ,
		BytesPerSector:    g.bytesPerSector,
		SectorsPerCluster: g.sectorsPerCluster,
		ReservedSectors:   g.reservedSectors,
		NumFATs:           g.numFATs,
		FATSectors:        g.fatSize,
		RootEntryCount:    g.rootEntryCount,
		TotalSectors:      g.totalSectors,
		ClusterCount:      g.clusterCount,
		RootCluster:       g.rootCluster,
		FSInfoSector:      g.fsInfoSector,
		VolumeLabel:       g.volumeLabel,
	}
}

// Type returns the FAT variant, selected by cluster count.
func (v *Volume) Type() Type { return v.geo.typ }

// ClusterCount returns the number of data clusters.
func (v *Volume) ClusterCount() uint32 { return v.geo.clusterCount }

// ClusterSize returns the cluster size in bytes.
func (v *Volume) ClusterSize() int64 { return v.geo.clusterSize() }

// readAt reads from the volume's byte range. The range check guards
// against structures pointing outside the partition window even when
// the underlying image is larger.
func (v *Volume) readAt(p []byte, off int64) error {
	if off < 0 || off+int64(len(p)) > v.length {
		return fmt.Errorf("%w: volume-relative range [%d, %d) outside volume of %d bytes",
			diskimage.ErrOutOfBounds, off, off+int64(len(p)), v.length)
	}
	return v.img.ReadAt(p, v.start+off)
}

func (v *Volume) writeAt(p []byte, off int64) error {
	if off < 0 || off+int64(len(p)) > v.length {
		return fmt.Errorf("%w: volume-relative range [%d, %d) outside volume of %d bytes",
			diskimage.ErrOutOfBounds, off, off+int64(len(p)), v.length)
	}
	return v.img.WriteAt(p, v.start+off)
}

// clusterOffset returns the volume-relative byte offset of a data
// cluster. Cluster numbering starts at 2.
func (v *Volume) clusterOffset(n uint32) int64 {
	return v.geo.dataOffset + int64(n-2)*v.geo.clusterSize()
}

func (v *Volume) readCluster(n uint32) ([]byte, error) {
	buf := make([]byte, v.geo.clusterSize())
	if err := v.readAt(buf, v.clusterOffset(n)); err != nil {
		return nil, err
	}
	return buf, nil
}

// ReadFile returns the contents of the file described by e,
// concatenating its cluster chain and truncating to the declared
// size. A declared size larger than the chain can hold fails with
// ErrCapacityExceeded rather than returning short data.
func (v *Volume) ReadFile(e *DirEntry) ([]byte, error) {
	if e.Size == 0 {
		return nil, nil
	}
	if e.FirstCluster == 0 {
		return nil, fmt.Errorf("%w: %q declares %d bytes but has no cluster chain",
			ErrCapacityExceeded, e.Name, e.Size)
	}
	clusters, err := v.chainClusters(e.FirstCluster)
	if err != nil {
		return nil, err
	}
	capacity := int64(len(clusters)) * v.geo.clusterSize()
	if int64(e.Size) > capacity {
		return nil, fmt.Errorf("%w: %q declares %d bytes, chain holds %d",
			ErrCapacityExceeded, e.Name, e.Size, capacity)
	}
	data := make([]byte, 0, capacity)
	for _, c := range clusters {
		buf, err := v.readCluster(c)
		if err != nil {
			return nil, err
		}
		data = append(data, buf...)
	}
	return data[:e.Size], nil
}

// Lookup resolves a slash-separated path (e.g. "DOCS/NOTE.TXT") to
// its directory entry. Name comparison is case-insensitive, matching
// either the long or the 8.3 name.
func (v *Volume) Lookup(pathname string) (*DirEntry, error) {
	components := strings.Split(strings.Trim(pathname, "/"), "/")
	if len(components) == 1 && components[0] == "" {
		return nil, fmt.Errorf("%w: empty path", ErrNotFound)
	}

	entries, err := v.ReadRoot()
	if err != nil {
		return nil, err
	}
	for i, component := range components {
		e := findEntry(entries, component)
		if e == nil {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, pathname)
		}
		if i == len(components)-1 {
			return e, nil
		}
		if !e.IsDir() {
			return nil, fmt.Errorf("%w: %s: %q is not a directory",
				ErrNotFound, pathname, component)
		}
		if entries, err = v.ReadDir(e.FirstCluster); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, pathname)
}

func findEntry(entries []DirEntry, name string) *DirEntry {
	for i := range entries {
		e := &entries[i]
		if strings.EqualFold(e.Name, name) || strings.EqualFold(e.ShortName, name) {
			return e
		}
	}
	return nil
}
