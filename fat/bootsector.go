package fat

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// bpb is the common part of the BIOS Parameter Block at the start of
// every FAT volume, in on-disk layout.
type bpb struct {
	JumpBoot          [3]byte
	OEMName           [8]byte
	BytesPerSector    uint16
	SectorsPerCluster uint8
	ReservedSectors   uint16
	NumFATs           uint8
	RootEntryCount    uint16
	TotalSectors16    uint16
	Media             uint8
	FATSize16         uint16
	SectorsPerTrack   uint16
	NumHeads          uint16
	HiddenSectors     uint32
	TotalSectors32    uint32
}

// fat32Ext follows bpb on FAT32 volumes.
type fat32Ext struct {
	FATSize32      uint32
	ExtFlags       uint16
	FSVersion      uint16
	RootCluster    uint32
	FSInfoSector   uint16
	BackupBootSect uint16
	Reserved       [12]byte
	DriveNumber    uint8
	Reserved1      uint8
	BootSignature  uint8
	VolumeID       uint32
	VolumeLabel    [11]byte
	FSTypeLabel    [8]byte
}

// fat16Ext follows bpb on FAT12/16 volumes.
type fat16Ext struct {
	DriveNumber   uint8
	Reserved1     uint8
	BootSignature uint8
	VolumeID      uint32
	VolumeLabel   [11]byte
	FSTypeLabel   [8]byte
}

const (
	bootSectorSignature = 0xAA55
	dirEntrySize        = 32
)

// geometry is the decoded, validated layout of a volume.
type geometry struct {
	typ               Type
	bytesPerSector    uint32
	sectorsPerCluster uint32
	reservedSectors   uint32
	numFATs           uint32
	fatSize           uint32 // sectors per FAT copy
	rootEntryCount    uint32
	totalSectors      uint32
	clusterCount      uint32
	rootCluster       uint32 // FAT32 only
	fsInfoSector      uint16 // FAT32 only
	volumeLabel       string

	// byte offsets relative to the start of the volume
	fatOffset     int64
	rootDirOffset int64
	dataOffset    int64
}

func (g *geometry) clusterSize() int64 {
	return int64(g.bytesPerSector) * int64(g.sectorsPerCluster)
}

func isPowerOfTwo(n uint32) bool { return n != 0 && n&(n-1) == 0 }

// parseBootSector decodes and validates the first sector of a volume.
// The FAT type is derived from the cluster count alone (the stored
// type label is ignored), per the canonical boundary rule.
func parseBootSector(raw []byte) (*geometry, error) {
	if got := binary.LittleEndian.Uint16(raw[510:]); got != bootSectorSignature {
		return nil, fmt.Errorf("%w: boot signature %#04x, want %#04x",
			ErrInvalidBootSector, got, bootSectorSignature)
	}

	var b bpb
	if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, &b); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBootSector, err)
	}

	switch b.BytesPerSector {
	case 512, 1024, 2048, 4096:
	default:
		return nil, fmt.Errorf("%w: %d bytes per sector", ErrUnsupportedGeometry, b.BytesPerSector)
	}
	if !isPowerOfTwo(uint32(b.SectorsPerCluster)) {
		return nil, fmt.Errorf("%w: %d sectors per cluster", ErrUnsupportedGeometry, b.SectorsPerCluster)
	}
	if b.ReservedSectors == 0 || b.NumFATs == 0 {
		return nil, fmt.Errorf("%w: %d reserved sectors, %d FATs",
			ErrInvalidBootSector, b.ReservedSectors, b.NumFATs)
	}

	g := &geometry{
		bytesPerSector:    uint32(b.BytesPerSector),
		sectorsPerCluster: uint32(b.SectorsPerCluster),
		reservedSectors:   uint32(b.ReservedSectors),
		numFATs:           uint32(b.NumFATs),
		rootEntryCount:    uint32(b.RootEntryCount),
	}

	// 16-bit total-sector and FAT-size fields win when nonzero; the
	// 32-bit fields cover larger volumes.
	g.totalSectors = uint32(b.TotalSectors16)
	if g.totalSectors == 0 {
		g.totalSectors = b.TotalSectors32
	}
	g.fatSize = uint32(b.FATSize16)

	var ext32 fat32Ext
	if err := binary.Read(bytes.NewReader(raw[36:]), binary.LittleEndian, &ext32); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBootSector, err)
	}
	if g.fatSize == 0 {
		g.fatSize = ext32.FATSize32
	}
	if g.totalSectors == 0 || g.fatSize == 0 {
		return nil, fmt.Errorf("%w: zero total sectors or FAT size", ErrInvalidBootSector)
	}

	rootDirSectors := (g.rootEntryCount*dirEntrySize + g.bytesPerSector - 1) / g.bytesPerSector
	dataStart := g.reservedSectors + g.numFATs*g.fatSize + rootDirSectors
	if g.totalSectors <= dataStart {
		return nil, fmt.Errorf("%w: no data region (%d total sectors, data starts at sector %d)",
			ErrInvalidBootSector, g.totalSectors, dataStart)
	}
	g.clusterCount = (g.totalSectors - dataStart) / g.sectorsPerCluster
	g.typ = typeForClusterCount(g.clusterCount)

	bps := int64(g.bytesPerSector)
	g.fatOffset = int64(g.reservedSectors) * bps
	g.rootDirOffset = int64(g.reservedSectors+g.numFATs*g.fatSize) * bps
	g.dataOffset = g.rootDirOffset + int64(rootDirSectors)*bps

	if g.typ == TypeFAT32 {
		g.rootCluster = ext32.RootCluster
		g.fsInfoSector = ext32.FSInfoSector
		g.volumeLabel = trimLabel(ext32.VolumeLabel)
		if g.rootCluster < 2 {
			return nil, fmt.Errorf("%w: FAT32 root cluster %d", ErrInvalidBootSector, g.rootCluster)
		}
	} else {
		var ext16 fat16Ext
		if err := binary.Read(bytes.NewReader(raw[36:]), binary.LittleEndian, &ext16); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidBootSector, err)
		}
		g.volumeLabel = trimLabel(ext16.VolumeLabel)
	}
	return g, nil
}

func trimLabel(label [11]byte) string {
	return string(bytes.TrimRight(label[:], " "))
}
