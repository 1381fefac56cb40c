package gpt

import (
	"encoding/binary"
	"fmt"

	"github.com/gokrazy/diskimg/diskimage"
)

// Protective MBR layout per the UEFI specification: a single partition
// record of OS type 0xEE spanning the whole disk (capped at the field
// widths) so legacy tools leave the GPT alone.
const (
	mbrSignature       = 0xAA55
	mbrSignatureOffset = 510
	mbrRecordOffset    = 446
	osTypeGPTProtect   = 0xEE
	maxEndingCHS       = 0xFFFFFF
	maxSizeInLBA       = 0xFFFFFFFF
)

func checkMBRSignature(raw []byte) error {
	if got := binary.LittleEndian.Uint16(raw[mbrSignatureOffset:]); got != mbrSignature {
		return fmt.Errorf("%w: protective MBR boot signature %#04x, want %#04x",
			ErrInvalidSignature, got, mbrSignature)
	}
	return nil
}

// encodeProtectiveMBR returns sector 0 for a disk of the given size.
func encodeProtectiveMBR(diskSectors uint64) []byte {
	sizeInLBA := diskSectors - 1
	if sizeInLBA > maxSizeInLBA {
		sizeInLBA = maxSizeInLBA
	}
	endingCHS := diskSectors*diskimage.SectorSize - 1
	if endingCHS > maxEndingCHS {
		endingCHS = maxEndingCHS
	}

	raw := make([]byte, diskimage.SectorSize)
	rec := raw[mbrRecordOffset:]
	rec[0] = 0x00 // boot indicator: not bootable
	// starting CHS 0/0/2, stored as three bytes
	rec[1], rec[2], rec[3] = 0x00, 0x02, 0x00
	rec[4] = osTypeGPTProtect
	rec[5] = byte(endingCHS)
	rec[6] = byte(endingCHS >> 8)
	rec[7] = byte(endingCHS >> 16)
	binary.LittleEndian.PutUint32(rec[8:], 1) // starting LBA
	binary.LittleEndian.PutUint32(rec[12:], uint32(sizeInLBA))
	binary.LittleEndian.PutUint16(raw[mbrSignatureOffset:], mbrSignature)
	return raw
}
