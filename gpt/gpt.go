// Package gpt reads and writes GUID partition tables, including the
// protective MBR, the primary and backup headers and the partition
// entry array. Parsing validates the CRC32 checksums mandated by the
// UEFI specification and falls back to the backup header once if the
// primary header is corrupt.
package gpt

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"unicode/utf16"

	"github.com/google/uuid"

	"github.com/gokrazy/diskimg/diskimage"
)

const (
	signature   = 0x5452415020494645 // "EFI PART"
	revision    = 0x00010000
	headerSize  = 92
	entryNameAt = 56

	// NumEntries and EntrySize describe the partition entry array this
	// package writes: the conventional 128 entries of 128 bytes each.
	NumEntries = 128
	EntrySize  = 128
)

var (
	ErrInvalidSignature = errors.New("gpt: invalid signature")
	ErrChecksumMismatch = errors.New("gpt: checksum mismatch")
	ErrTruncated        = errors.New("gpt: structure exceeds image bounds")
)

// Header holds the decoded fields of a GPT header.
type Header struct {
	CurrentLBA     uint64
	BackupLBA      uint64
	FirstUsableLBA uint64
	LastUsableLBA  uint64
	DiskGUID       uuid.UUID
	EntryLBA       uint64
	EntryCount     uint32
	EntrySize      uint32

	entryCRC uint32
}

// Partition is one used entry of the partition entry array. Index is
// the entry's position in the array as stored on disk.
type Partition struct {
	Index      int
	Type       uuid.UUID
	GUID       uuid.UUID
	FirstLBA   uint64
	LastLBA    uint64
	Attributes uint64
	Name       string
}

// Sectors returns the partition length in logical blocks.
func (p *Partition) Sectors() uint64 { return p.LastLBA - p.FirstLBA + 1 }

// ByteRange returns the byte offset and length of the partition
// within the image.
func (p *Partition) ByteRange() (start, length int64) {
	return int64(p.FirstLBA) * diskimage.SectorSize,
		int64(p.Sectors()) * diskimage.SectorSize
}

// Table is a decoded partition table: the header that validated plus
// all used partition entries in array order.
type Table struct {
	Header     Header
	Partitions []Partition
}

// Read parses the partition table of img. The protective MBR is only
// sanity-checked for its boot signature. If the primary header at LBA
// 1 fails its signature or checksum validation, the backup header at
// the last LBA is tried before the primary error is surfaced.
func Read(img *diskimage.Image) (*Table, error) {
	mbr, err := img.ReadLBA(0, 1)
	if err != nil {
		return nil, fmt.Errorf("%w: protective MBR: %v", ErrTruncated, err)
	}
	if err := checkMBRSignature(mbr); err != nil {
		return nil, err
	}

	hdr, err := readHeader(img, 1)
	if err != nil {
		// Self-healing per the UEFI spec: consult the backup header at
		// the last LBA exactly once.
		backup, berr := readHeader(img, uint64(img.Sectors()-1))
		if berr != nil {
			return nil, err
		}
		hdr = backup
	}

	parts, err := readEntryArray(img, hdr)
	if err != nil {
		return nil, err
	}
	return &Table{Header: *hdr, Partitions: parts}, nil
}

func readHeader(img *diskimage.Image, lba uint64) (*Header, error) {
	if int64(lba) >= img.Sectors() {
		return nil, fmt.Errorf("%w: header LBA %d beyond last LBA %d",
			ErrTruncated, lba, img.Sectors()-1)
	}
	raw, err := img.ReadLBA(int64(lba), 1)
	if err != nil {
		return nil, err
	}

	if got := binary.LittleEndian.Uint64(raw[0:8]); got != signature {
		return nil, fmt.Errorf("%w: header at LBA %d: got %#x, want \"EFI PART\"",
			ErrInvalidSignature, lba, got)
	}
	size := binary.LittleEndian.Uint32(raw[12:16])
	if size < headerSize || size > diskimage.SectorSize {
		return nil, fmt.Errorf("%w: header at LBA %d: implausible header size %d",
			ErrInvalidSignature, lba, size)
	}
	stored := binary.LittleEndian.Uint32(raw[16:20])
	if computed := headerCRC(raw, size); computed != stored {
		return nil, fmt.Errorf("%w: header at LBA %d: computed %#08x, stored %#08x",
			ErrChecksumMismatch, lba, computed, stored)
	}

	return &Header{
		CurrentLBA:     binary.LittleEndian.Uint64(raw[24:32]),
		BackupLBA:      binary.LittleEndian.Uint64(raw[32:40]),
		FirstUsableLBA: binary.LittleEndian.Uint64(raw[40:48]),
		LastUsableLBA:  binary.LittleEndian.Uint64(raw[48:56]),
		DiskGUID:       guidFromBytes(raw[56:72]),
		EntryLBA:       binary.LittleEndian.Uint64(raw[72:80]),
		EntryCount:     binary.LittleEndian.Uint32(raw[80:84]),
		EntrySize:      binary.LittleEndian.Uint32(raw[84:88]),
		entryCRC:       binary.LittleEndian.Uint32(raw[88:92]),
	}, nil
}

// headerCRC computes the header checksum with the checksum field
// itself treated as zero.
func headerCRC(raw []byte, size uint32) uint32 {
	cp := make([]byte, size)
	copy(cp, raw[:size])
	cp[16], cp[17], cp[18], cp[19] = 0, 0, 0, 0
	return crc32.ChecksumIEEE(cp)
}

func readEntryArray(img *diskimage.Image, hdr *Header) ([]Partition, error) {
	arrayLen := int64(hdr.EntryCount) * int64(hdr.EntrySize)
	start := int64(hdr.EntryLBA) * diskimage.SectorSize
	if hdr.EntrySize < EntrySize || start+arrayLen > img.Size() {
		return nil, fmt.Errorf("%w: entry array at LBA %d (%d entries of %d bytes)",
			ErrTruncated, hdr.EntryLBA, hdr.EntryCount, hdr.EntrySize)
	}
	raw := make([]byte, arrayLen)
	if err := img.ReadAt(raw, start); err != nil {
		return nil, err
	}
	if computed := crc32.ChecksumIEEE(raw); computed != hdr.entryCRC {
		return nil, fmt.Errorf("%w: entry array: computed %#08x, stored %#08x",
			ErrChecksumMismatch, computed, hdr.entryCRC)
	}

	var parts []Partition
	for i := 0; i < int(hdr.EntryCount); i++ {
		entry := raw[i*int(hdr.EntrySize):]
		p := parseEntry(entry)
		if p.Type == uuid.Nil {
			continue // unused entry
		}
		p.Index = i
		parts = append(parts, p)
	}
	return parts, nil
}

func parseEntry(raw []byte) Partition {
	return Partition{
		Type:       guidFromBytes(raw[0:16]),
		GUID:       guidFromBytes(raw[16:32]),
		FirstLBA:   binary.LittleEndian.Uint64(raw[32:40]),
		LastLBA:    binary.LittleEndian.Uint64(raw[40:48]),
		Attributes: binary.LittleEndian.Uint64(raw[48:56]),
		Name:       decodeName(raw[entryNameAt:EntrySize]),
	}
}

// decodeName decodes the fixed-length, null-padded UTF-16 partition
// name.
func decodeName(raw []byte) string {
	var units []uint16
	for i := 0; i+1 < len(raw); i += 2 {
		u := binary.LittleEndian.Uint16(raw[i:])
		if u == 0 {
			break
		}
		units = append(units, u)
	}
	return string(utf16.Decode(units))
}
