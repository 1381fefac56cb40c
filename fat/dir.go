package fat

import (
	"encoding/binary"
	"fmt"
	"strings"
	"time"
	"unicode/utf16"
)

// Directory entry attribute bits.
const (
	AttrReadOnly    = 0x01
	AttrHidden      = 0x02
	AttrSystem      = 0x04
	AttrVolumeLabel = 0x08
	AttrDirectory   = 0x10
	AttrArchive     = 0x20

	attrLongName  = 0x0F
	deletedMarker = 0xE5
)

// DirEntry is one decoded directory record. Name is the long name
// when a valid long-name sequence precedes the record, otherwise the
// 8.3 name.
type DirEntry struct {
	Name         string
	ShortName    string
	Attr         uint8
	Size         uint32
	FirstCluster uint32
	ModTime      time.Time
}

func (e *DirEntry) IsDir() bool { return e.Attr&AttrDirectory != 0 }

// ReadRoot lists the root directory: a fixed entry array on FAT12/16,
// a regular cluster chain on FAT32.
func (v *Volume) ReadRoot() ([]DirEntry, error) {
	if v.geo.typ == TypeFAT32 {
		return v.ReadDir(v.geo.rootCluster)
	}
	raw := make([]byte, v.geo.rootEntryCount*dirEntrySize)
	if err := v.readAt(raw, v.geo.rootDirOffset); err != nil {
		return nil, err
	}
	return v.parseDirEntries(raw)
}

// ReadDir lists the directory whose chain starts at the given
// cluster.
func (v *Volume) ReadDir(cluster uint32) ([]DirEntry, error) {
	clusters, err := v.chainClusters(cluster)
	if err != nil {
		return nil, err
	}
	raw := make([]byte, 0, int64(len(clusters))*v.geo.clusterSize())
	for _, c := range clusters {
		buf, err := v.readCluster(c)
		if err != nil {
			return nil, err
		}
		raw = append(raw, buf...)
	}
	return v.parseDirEntries(raw)
}

func (v *Volume) parseDirEntries(raw []byte) ([]DirEntry, error) {
	var entries []DirEntry
	var acc longNameAcc
	for off := 0; off+dirEntrySize <= len(raw); off += dirEntrySize {
		rec := raw[off : off+dirEntrySize]
		switch rec[0] {
		case 0x00:
			return entries, nil // end of directory
		case deletedMarker:
			acc.reset()
			continue
		}
		if rec[11]&0x3F == attrLongName {
			acc.add(rec)
			continue
		}
		if rec[11]&AttrVolumeLabel != 0 {
			acc.reset()
			continue
		}

		short := shortNameString(rec[:11])
		if short == "." || short == ".." {
			acc.reset()
			continue
		}
		e := DirEntry{
			Name:      short,
			ShortName: short,
			Attr:      rec[11],
			Size:      binary.LittleEndian.Uint32(rec[28:32]),
			ModTime: fromDOSTime(
				binary.LittleEndian.Uint16(rec[22:24]),
				binary.LittleEndian.Uint16(rec[24:26])),
		}
		e.FirstCluster = uint32(binary.LittleEndian.Uint16(rec[26:28]))
		if v.geo.typ == TypeFAT32 {
			e.FirstCluster |= uint32(binary.LittleEndian.Uint16(rec[20:22])) << 16
		}
		// A checksum mismatch discards the accumulated long name; the
		// 8.3 name alone is used.
		if long, err := acc.take(rec[:11]); err == nil && long != "" {
			e.Name = long
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// shortNameString renders an 11-byte 8.3 field as NAME.EXT. A leading
// 0x05 stands in for an initial 0xE5 byte.
func shortNameString(field []byte) string {
	name := make([]byte, 11)
	copy(name, field)
	if name[0] == 0x05 {
		name[0] = 0xE5
	}
	base := strings.TrimRight(string(name[:8]), " ")
	ext := strings.TrimRight(string(name[8:11]), " ")
	if ext == "" {
		return base
	}
	return base + "." + ext
}

// shortNameChecksum is the rotate-and-add checksum that ties
// long-name fragments to their 8.3 entry.
func shortNameChecksum(field []byte) uint8 {
	var sum uint8
	for _, c := range field[:11] {
		sum = sum>>1 | sum<<7
		sum += c
	}
	return sum
}

const (
	lfnLastFlag     = 0x40
	lfnUnitsPerFrag = 13
)

type lfnFragment struct {
	ord    int
	chksum uint8
	units  [lfnUnitsPerFrag]uint16
}

// longNameAcc collects long-name fragments until the short entry they
// belong to is reached. Its lifetime is one run of adjacent records;
// anything that interrupts the run resets it.
type longNameAcc struct {
	frags []lfnFragment
}

func (acc *longNameAcc) reset() { acc.frags = acc.frags[:0] }

func (acc *longNameAcc) add(rec []byte) {
	frag := lfnFragment{
		ord:    int(rec[0] &^ lfnLastFlag),
		chksum: rec[13],
	}
	// 13 UTF-16 code units split across three regions of the record.
	for i := 0; i < 5; i++ {
		frag.units[i] = binary.LittleEndian.Uint16(rec[1+2*i:])
	}
	for i := 0; i < 6; i++ {
		frag.units[5+i] = binary.LittleEndian.Uint16(rec[14+2*i:])
	}
	for i := 0; i < 2; i++ {
		frag.units[11+i] = binary.LittleEndian.Uint16(rec[28+2*i:])
	}
	acc.frags = append(acc.frags, frag)
}

// take validates the collected fragments against the short name and
// reconstructs the long name. The accumulator is drained either way.
func (acc *longNameAcc) take(shortField []byte) (string, error) {
	frags := acc.frags
	acc.reset()
	if len(frags) == 0 {
		return "", nil
	}

	sum := shortNameChecksum(shortField)
	byOrd := make([]*lfnFragment, len(frags))
	for i := range frags {
		f := &frags[i]
		if f.chksum != sum {
			return "", fmt.Errorf("%w: fragment %d has %#02x, short name %q has %#02x",
				ErrChecksumMismatch, f.ord, f.chksum, shortNameString(shortField), sum)
		}
		if f.ord < 1 || f.ord > len(frags) || byOrd[f.ord-1] != nil {
			return "", fmt.Errorf("%w: fragment ordinals not contiguous", ErrChecksumMismatch)
		}
		byOrd[f.ord-1] = f
	}

	// Fragments are stored in descending ordinal order; reassemble
	// ascending and cut at the NUL terminator.
	var units []uint16
	for _, f := range byOrd {
		units = append(units, f.units[:]...)
	}
	for i, u := range units {
		if u == 0x0000 {
			units = units[:i]
			break
		}
	}
	return string(utf16.Decode(units)), nil
}
