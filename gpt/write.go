package gpt

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"unicode/utf16"

	"github.com/google/uuid"

	"github.com/gokrazy/diskimg/diskimage"
)

// arraySectors is the size of the 128-entry array in logical blocks.
const arraySectors = NumEntries * EntrySize / diskimage.SectorSize

// UsableRange returns the first and last usable LBA for a disk with
// the given total sector count, leaving room for the protective MBR,
// both headers and both entry arrays.
func UsableRange(diskSectors uint64) (first, last uint64) {
	return 2 + arraySectors, diskSectors - 2 - arraySectors
}

// DiskSectors returns the total image size in sectors needed to hold
// the GPT structures plus partitions totalling partitionSectors.
func DiskSectors(partitionSectors uint64) uint64 {
	return 1 + 1 + arraySectors + partitionSectors + arraySectors + 1
}

// Write writes a complete partition table to img: protective MBR,
// primary header and entry array, and their backups in the trailing
// region. Identical inputs produce byte-identical output. Each
// partition is stored at its Index in the entry array.
func Write(img *diskimage.Image, diskGUID uuid.UUID, partitions []Partition) error {
	sectors := uint64(img.Sectors())
	if sectors < 2*(2+arraySectors) {
		return fmt.Errorf("%w: image of %d sectors cannot hold a partition table",
			ErrTruncated, sectors)
	}
	firstUsable, lastUsable := UsableRange(sectors)

	array := make([]byte, NumEntries*EntrySize)
	for i := range partitions {
		p := &partitions[i]
		if p.Index < 0 || p.Index >= NumEntries {
			return fmt.Errorf("gpt: partition %q: index %d outside entry array", p.Name, p.Index)
		}
		if p.FirstLBA > p.LastLBA {
			return fmt.Errorf("gpt: partition %q: first LBA %d after last LBA %d",
				p.Name, p.FirstLBA, p.LastLBA)
		}
		if p.FirstLBA < firstUsable || p.LastLBA > lastUsable {
			return fmt.Errorf("gpt: partition %q: LBA range [%d, %d] outside usable range [%d, %d]",
				p.Name, p.FirstLBA, p.LastLBA, firstUsable, lastUsable)
		}
		if err := encodeEntry(array[p.Index*EntrySize:(p.Index+1)*EntrySize], p); err != nil {
			return err
		}
	}
	arrayCRC := crc32.ChecksumIEEE(array)

	hdr := Header{
		CurrentLBA:     1,
		BackupLBA:      sectors - 1,
		FirstUsableLBA: firstUsable,
		LastUsableLBA:  lastUsable,
		DiskGUID:       diskGUID,
		EntryLBA:       2,
		EntryCount:     NumEntries,
		EntrySize:      EntrySize,
		entryCRC:       arrayCRC,
	}
	backup := hdr
	backup.CurrentLBA, backup.BackupLBA = hdr.BackupLBA, hdr.CurrentLBA
	backup.EntryLBA = sectors - 1 - arraySectors

	if err := img.WriteLBA(encodeProtectiveMBR(sectors), 0); err != nil {
		return err
	}
	if err := img.WriteLBA(encodeHeader(&hdr), 1); err != nil {
		return err
	}
	if err := img.WriteLBA(array, 2); err != nil {
		return err
	}
	if err := img.WriteLBA(array, int64(backup.EntryLBA)); err != nil {
		return err
	}
	return img.WriteLBA(encodeHeader(&backup), int64(backup.CurrentLBA))
}

func encodeHeader(hdr *Header) []byte {
	raw := make([]byte, diskimage.SectorSize)
	binary.LittleEndian.PutUint64(raw[0:8], signature)
	binary.LittleEndian.PutUint32(raw[8:12], revision)
	binary.LittleEndian.PutUint32(raw[12:16], headerSize)
	// raw[16:20] is the checksum, computed over the zeroed field below
	binary.LittleEndian.PutUint64(raw[24:32], hdr.CurrentLBA)
	binary.LittleEndian.PutUint64(raw[32:40], hdr.BackupLBA)
	binary.LittleEndian.PutUint64(raw[40:48], hdr.FirstUsableLBA)
	binary.LittleEndian.PutUint64(raw[48:56], hdr.LastUsableLBA)
	guid := guidBytes(hdr.DiskGUID)
	copy(raw[56:72], guid[:])
	binary.LittleEndian.PutUint64(raw[72:80], hdr.EntryLBA)
	binary.LittleEndian.PutUint32(raw[80:84], hdr.EntryCount)
	binary.LittleEndian.PutUint32(raw[84:88], hdr.EntrySize)
	binary.LittleEndian.PutUint32(raw[88:92], hdr.entryCRC)
	binary.LittleEndian.PutUint32(raw[16:20], crc32.ChecksumIEEE(raw[:headerSize]))
	return raw
}

func encodeEntry(raw []byte, p *Partition) error {
	typ := guidBytes(p.Type)
	copy(raw[0:16], typ[:])
	guid := guidBytes(p.GUID)
	copy(raw[16:32], guid[:])
	binary.LittleEndian.PutUint64(raw[32:40], p.FirstLBA)
	binary.LittleEndian.PutUint64(raw[40:48], p.LastLBA)
	binary.LittleEndian.PutUint64(raw[48:56], p.Attributes)

	units := utf16.Encode([]rune(p.Name))
	if len(units) > (EntrySize-entryNameAt)/2 {
		return fmt.Errorf("gpt: partition name %q exceeds %d UTF-16 code units",
			p.Name, (EntrySize-entryNameAt)/2)
	}
	for i, u := range units {
		binary.LittleEndian.PutUint16(raw[entryNameAt+2*i:], u)
	}
	return nil
}
