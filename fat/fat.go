// Package fat reads and builds FAT12, FAT16 and FAT32 file systems
// inside a byte range of a disk image. The read path decodes the boot
// sector, walks cluster chains cycle-safely and resolves long file
// names; the builder formats a range and populates it from a file
// tree.
//
// The FAT variant is always selected by cluster count, never by the
// type label string stored in the boot sector.
package fat

import "errors"

// Type is the FAT variant of a volume.
type Type int

const (
	TypeFAT12 Type = iota
	TypeFAT16
	TypeFAT32
)

func (t Type) String() string {
	switch t {
	case TypeFAT12:
		return "FAT12"
	case TypeFAT16:
		return "FAT16"
	case TypeFAT32:
		return "FAT32"
	}
	return "unknown"
}

// Canonical cluster-count boundaries: a FAT with fewer than 4085
// clusters is FAT12, fewer than 65525 is FAT16, anything else FAT32.
const (
	maxClustersFAT12 = 4084
	maxClustersFAT16 = 65524
	maxClustersFAT32 = 0x0FFFFFF4
)

func typeForClusterCount(n uint32) Type {
	switch {
	case n <= maxClustersFAT12:
		return TypeFAT12
	case n <= maxClustersFAT16:
		return TypeFAT16
	default:
		return TypeFAT32
	}
}

// End-of-chain thresholds: any FAT entry at or above the threshold
// terminates a cluster chain.
const (
	eocFAT12 = 0xFF8
	eocFAT16 = 0xFFF8
	eocFAT32 = 0x0FFFFFF8
)

var (
	ErrInvalidBootSector   = errors.New("fat: invalid boot sector")
	ErrUnsupportedGeometry = errors.New("fat: unsupported geometry")
	ErrBrokenChain         = errors.New("fat: broken cluster chain")
	ErrCycleDetected       = errors.New("fat: cycle in cluster chain")
	ErrInvalidCluster      = errors.New("fat: invalid cluster number")
	ErrChecksumMismatch    = errors.New("fat: long name checksum mismatch")
	ErrCapacityExceeded    = errors.New("fat: file size exceeds chain capacity")
	ErrNotFound            = errors.New("fat: path not found")
	ErrNoSpace             = errors.New("fat: volume capacity exceeded")
)
