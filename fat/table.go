package fat

import (
	"encoding/binary"
	"fmt"
	"io"
)

// FAT12 packs two 12-bit entries into every three table bytes. The
// entry for cluster n starts at byte n + n/2: even clusters occupy
// the low 12 bits of that byte pair, odd clusters the high 12 bits.

func fat12Entry(pair []byte, n uint32) uint16 {
	v := binary.LittleEndian.Uint16(pair)
	if n&1 == 1 {
		return v >> 4
	}
	return v & 0x0FFF
}

func putFAT12Entry(pair []byte, n uint32, val uint16) {
	v := binary.LittleEndian.Uint16(pair)
	if n&1 == 1 {
		v = v&0x000F | val<<4
	} else {
		v = v&0xF000 | val&0x0FFF
	}
	binary.LittleEndian.PutUint16(pair, v)
}

// fatEntryPos returns the byte offset of cluster n's entry within a
// FAT copy and the width to read.
func (v *Volume) fatEntryPos(n uint32) (off int64, width int) {
	switch v.geo.typ {
	case TypeFAT12:
		return int64(n) + int64(n)/2, 2
	case TypeFAT16:
		return int64(n) * 2, 2
	default:
		return int64(n) * 4, 4
	}
}

// ReadFATEntry returns the FAT entry for cluster n from the first FAT
// copy. For FAT32 the reserved top four bits are masked off.
func (v *Volume) ReadFATEntry(n uint32) (uint32, error) {
	if n >= v.geo.clusterCount+2 {
		return 0, fmt.Errorf("%w: %d (FAT has %d entries)",
			ErrInvalidCluster, n, v.geo.clusterCount+2)
	}
	off, width := v.fatEntryPos(n)
	buf := make([]byte, width)
	if err := v.readAt(buf, v.geo.fatOffset+off); err != nil {
		return 0, err
	}
	switch v.geo.typ {
	case TypeFAT12:
		return uint32(fat12Entry(buf, n)), nil
	case TypeFAT16:
		return uint32(binary.LittleEndian.Uint16(buf)), nil
	default:
		return binary.LittleEndian.Uint32(buf) & 0x0FFFFFFF, nil
	}
}

// WriteFATEntry sets the FAT entry for cluster n in every FAT copy.
func (v *Volume) WriteFATEntry(n, val uint32) error {
	if n >= v.geo.clusterCount+2 {
		return fmt.Errorf("%w: %d (FAT has %d entries)",
			ErrInvalidCluster, n, v.geo.clusterCount+2)
	}
	off, width := v.fatEntryPos(n)
	fatBytes := int64(v.geo.fatSize) * int64(v.geo.bytesPerSector)
	for copyIdx := int64(0); copyIdx < int64(v.geo.numFATs); copyIdx++ {
		pos := v.geo.fatOffset + copyIdx*fatBytes + off
		buf := make([]byte, width)
		if err := v.readAt(buf, pos); err != nil {
			return err
		}
		switch v.geo.typ {
		case TypeFAT12:
			putFAT12Entry(buf, n, uint16(val))
		case TypeFAT16:
			binary.LittleEndian.PutUint16(buf, uint16(val))
		default:
			binary.LittleEndian.PutUint32(buf, val&0x0FFFFFFF)
		}
		if err := v.writeAt(buf, pos); err != nil {
			return err
		}
	}
	return nil
}

func (v *Volume) isEOC(val uint32) bool {
	switch v.geo.typ {
	case TypeFAT12:
		return val >= eocFAT12
	case TypeFAT16:
		return val >= eocFAT16
	default:
		return val >= eocFAT32
	}
}

// ChainWalker yields the cluster indices of one chain in order. Each
// call to Chain returns an independent walker, so traversals are
// restartable. A visited set bounds every walk by the volume's
// cluster count, guaranteeing termination on adversarial input.
type ChainWalker struct {
	v       *Volume
	next    uint32
	visited map[uint32]bool
	done    bool
}

// Chain starts a walk at the given cluster.
func (v *Volume) Chain(start uint32) *ChainWalker {
	return &ChainWalker{v: v, next: start, visited: make(map[uint32]bool)}
}

// Next returns the next cluster of the chain, or io.EOF after the
// end-of-chain marker. A repeated cluster fails with ErrCycleDetected,
// a cluster outside [2, clusterCount+1] with ErrInvalidCluster, and a
// free marker inside the chain with ErrBrokenChain.
func (w *ChainWalker) Next() (uint32, error) {
	if w.done {
		return 0, io.EOF
	}
	cur := w.next
	if cur < 2 || cur >= w.v.geo.clusterCount+2 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidCluster, cur)
	}
	if w.visited[cur] {
		return 0, fmt.Errorf("%w: cluster %d seen twice", ErrCycleDetected, cur)
	}
	w.visited[cur] = true

	val, err := w.v.ReadFATEntry(cur)
	if err != nil {
		return 0, err
	}
	switch {
	case val == 0:
		return 0, fmt.Errorf("%w: free marker in FAT entry of cluster %d", ErrBrokenChain, cur)
	case w.v.isEOC(val):
		w.done = true
	default:
		w.next = val
	}
	return cur, nil
}

// chainClusters collects a whole chain.
func (v *Volume) chainClusters(start uint32) ([]uint32, error) {
	var clusters []uint32
	walker := v.Chain(start)
	for {
		c, err := walker.Next()
		if err == io.EOF {
			return clusters, nil
		}
		if err != nil {
			return nil, err
		}
		clusters = append(clusters, c)
	}
}
