package fat

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path"
	"strings"
	"time"
	"unicode/utf16"

	"github.com/spf13/afero"

	"github.com/gokrazy/diskimg/diskimage"
)

const (
	// mediaHardDisk is the media descriptor for fixed disks, mirrored
	// into the first FAT entry.
	mediaHardDisk = 0xF8

	builderOEMName = "diskimg "

	// Root directory capacity on FAT12/16 volumes.
	builderRootEntries = 512
)

// Builder accumulates an in-memory file tree and formats a byte range
// of an image as a FAT volume holding that tree. The FAT variant is
// selected from the range's capacity by the same cluster-count
// boundary rule the reader uses.
type Builder struct {
	label    string
	volumeID uint32
	root     *buildNode

	files        int
	dirs         int
	contentBytes int64
}

type buildNode struct {
	name    string
	modTime time.Time
	isDir   bool
	data    []byte

	children []*buildNode
	byName   map[string]*buildNode
	parent   *buildNode

	shortField   [11]byte
	needsLFN     bool
	firstCluster uint32
	numClusters  uint32
}

// NewBuilder returns an empty builder. The volume ID defaults to a
// fixed value so that identical inputs produce identical volumes;
// override it with SetVolumeID if uniqueness matters.
func NewBuilder() *Builder {
	return &Builder{
		volumeID: 0x1234ABCD,
		root: &buildNode{
			isDir:  true,
			byName: make(map[string]*buildNode),
		},
	}
}

func (b *Builder) SetLabel(label string) { b.label = label }

func (b *Builder) SetVolumeID(id uint32) { b.volumeID = id }

// Stats reports what has been added so far: file count, directory
// count and total content bytes.
func (b *Builder) Stats() (files, dirs int, contentBytes int64) {
	return b.files, b.dirs, b.contentBytes
}

// dir returns the directory node for a slash-separated path, creating
// intermediate directories as needed.
func (b *Builder) dir(pathname string, modTime time.Time) (*buildNode, error) {
	cur := b.root
	for _, component := range strings.Split(pathname, "/") {
		if component == "" || component == "." {
			continue
		}
		child, ok := cur.byName[component]
		if !ok {
			child = &buildNode{
				name:    component,
				modTime: modTime,
				isDir:   true,
				byName:  make(map[string]*buildNode),
				parent:  cur,
			}
			cur.children = append(cur.children, child)
			cur.byName[component] = child
			b.dirs++
		}
		if !child.isDir {
			return nil, fmt.Errorf("fat: path %q invalid: component %q identifies a file",
				pathname, component)
		}
		cur = child
	}
	return cur, nil
}

// Mkdir creates a directory with the given full path, e.g.
// Mkdir("DOCS/REPORTS").
func (b *Builder) Mkdir(pathname string, modTime time.Time) error {
	d, err := b.dir(pathname, modTime)
	if err != nil {
		return err
	}
	d.modTime = modTime.UTC()
	return nil
}

// WriteFile adds a file with the given full path and contents.
func (b *Builder) WriteFile(pathname string, data []byte, modTime time.Time) error {
	d, err := b.dir(path.Dir(pathname), modTime)
	if err != nil {
		return err
	}
	name := path.Base(pathname)
	if name == "." || name == "/" || name == "" {
		return fmt.Errorf("fat: invalid file path %q", pathname)
	}
	if existing, ok := d.byName[name]; ok {
		if existing.isDir {
			return fmt.Errorf("fat: path %q identifies a directory", pathname)
		}
		b.contentBytes += int64(len(data)) - int64(len(existing.data))
		existing.data = data
		existing.modTime = modTime.UTC()
		return nil
	}
	f := &buildNode{
		name:    name,
		modTime: modTime.UTC(),
		data:    data,
		parent:  d,
	}
	d.children = append(d.children, f)
	d.byName[name] = f
	b.files++
	b.contentBytes += int64(len(data))
	return nil
}

// AddFS copies the tree rooted at root within src into the volume
// root. Works with any afero filesystem, e.g. an OsFs directory or a
// MemMapFs in tests.
func (b *Builder) AddFS(src afero.Fs, root string) error {
	return afero.Walk(src, root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel := strings.Trim(strings.TrimPrefix(p, root), "/")
		if rel == "" {
			return nil
		}
		if info.IsDir() {
			return b.Mkdir(rel, info.ModTime())
		}
		data, err := afero.ReadFile(src, p)
		if err != nil {
			return err
		}
		return b.WriteFile(rel, data, info.ModTime())
	})
}

// layout is the build-time counterpart of geometry: the planned
// volume shape plus the FAT under construction.
type layout struct {
	geometry
	fat      []uint32 // one entry per cluster index, 0..clusterCount+1
	nextFree uint32
}

// alloc reserves n clusters as one chain, contiguous in the FAT, and
// returns the first cluster.
func (l *layout) alloc(n uint32) (uint32, error) {
	if n == 0 {
		return 0, nil
	}
	if l.nextFree+n > l.clusterCount+2 {
		return 0, fmt.Errorf("%w: need %d clusters, %d free",
			ErrNoSpace, n, l.clusterCount+2-l.nextFree)
	}
	first := l.nextFree
	for i := uint32(0); i < n-1; i++ {
		l.fat[first+i] = first + i + 1
	}
	l.fat[first+n-1] = l.eoc()
	l.nextFree += n
	return first, nil
}

func (l *layout) eoc() uint32 {
	switch l.typ {
	case TypeFAT12:
		return 0xFFF
	case TypeFAT16:
		return 0xFFFF
	default:
		return 0x0FFFFFFF
	}
}

func fatBytesFor(typ Type, entries uint32) int64 {
	switch typ {
	case TypeFAT12:
		return (int64(entries)*3 + 1) / 2
	case TypeFAT16:
		return int64(entries) * 2
	default:
		return int64(entries) * 4
	}
}

func maxClustersFor(typ Type) uint32 {
	switch typ {
	case TypeFAT12:
		return maxClustersFAT12
	case TypeFAT16:
		return maxClustersFAT16
	default:
		return maxClustersFAT32
	}
}

// planGeometry derives the boot-sector fields for one candidate FAT
// type. The FAT must cover every cluster, but adding FAT sectors
// shrinks the data region; iterate until the size is stable.
func planGeometry(typ Type, totalSectors, spc uint32) (geometry, error) {
	const bps = 512
	g := geometry{
		typ:               typ,
		bytesPerSector:    bps,
		sectorsPerCluster: spc,
		numFATs:           2,
		totalSectors:      totalSectors,
	}
	if typ == TypeFAT32 {
		g.reservedSectors = 32
		g.fsInfoSector = 1
	} else {
		g.reservedSectors = 1
		g.rootEntryCount = builderRootEntries
	}

	rootDirSectors := (g.rootEntryCount*dirEntrySize + bps - 1) / bps
	overhead := g.reservedSectors + rootDirSectors
	if int64(overhead)+int64(spc) >= int64(totalSectors) {
		return geometry{}, fmt.Errorf("%w: %d sectors is too small to format",
			ErrNoSpace, totalSectors)
	}

	var fatSize uint32
	for {
		clusters := (totalSectors - overhead - g.numFATs*fatSize) / spc
		need := uint32((fatBytesFor(typ, clusters+2) + bps - 1) / bps)
		if need <= fatSize {
			break
		}
		fatSize = need
	}
	g.fatSize = fatSize
	g.clusterCount = (totalSectors - overhead - g.numFATs*fatSize) / spc

	g.fatOffset = int64(g.reservedSectors) * bps
	g.rootDirOffset = int64(g.reservedSectors+g.numFATs*g.fatSize) * bps
	g.dataOffset = g.rootDirOffset + int64(rootDirSectors)*bps
	return g, nil
}

// planLayout picks the FAT type and geometry for a byte range of the
// given length. Readers select the type from the final data-cluster
// count, so the boot sector must be planned against that count, not
// the raw capacity: reserved/FAT/root overhead can push the count
// back across a type boundary. The initial estimate is refined until
// the planned type and the count-derived type agree; when no type is
// self-consistent for the capacity, the volume is shrunk to the
// planned type's maximum cluster count, leaving trailing sectors of
// the range unused.
func planLayout(length int64) (*layout, error) {
	const bps = 512
	totalSectors := length / bps
	if totalSectors < 64 {
		return nil, fmt.Errorf("%w: %d bytes is too small to format", ErrNoSpace, length)
	}
	if totalSectors > 0xFFFFFFFF {
		return nil, fmt.Errorf("%w: %d bytes exceeds the FAT32 limit", ErrUnsupportedGeometry, length)
	}

	spc := uint32(1)
	for totalSectors/int64(spc) > maxClustersFAT32 {
		spc *= 2
	}

	sectors := uint32(totalSectors)
	typ := typeForClusterCount(uint32(totalSectors / int64(spc)))
	for {
		g, err := planGeometry(typ, sectors, spc)
		if err != nil {
			return nil, err
		}
		derived := typeForClusterCount(g.clusterCount)
		if derived == typ {
			l := &layout{geometry: g, nextFree: 2}
			l.fat = make([]uint32, g.clusterCount+2)
			return l, nil
		}
		if derived < typ {
			// Overhead pushed the count below the boundary; re-plan as
			// the smaller type.
			typ = derived
			continue
		}
		// The smaller type's leaner FAT raised the count back over its
		// own limit; no type fits the full range, so clamp to this
		// type's maximum.
		maxClusters := maxClustersFor(typ)
		fatSize := uint32((fatBytesFor(typ, maxClusters+2) + bps - 1) / bps)
		reserved, rootDirSectors := uint32(32), uint32(0)
		if typ != TypeFAT32 {
			reserved = 1
			rootDirSectors = (builderRootEntries*dirEntrySize + bps - 1) / bps
		}
		sectors = reserved + rootDirSectors + 2*fatSize + maxClusters*spc
	}
}

// Build formats the byte range [start, start+length) of img and
// writes the accumulated tree into it.
func (b *Builder) Build(img *diskimage.Image, start, length int64) error {
	l, err := planLayout(length)
	if err != nil {
		return err
	}

	if err := b.assignShortNames(b.root); err != nil {
		return err
	}
	if l.typ == TypeFAT32 {
		n, err := l.alloc(clustersFor(dirEntryBytes(b.root, true, b.label != ""), l.clusterSize()))
		if err != nil {
			return err
		}
		b.root.firstCluster = n
		l.rootCluster = n
	} else if dirEntryBytes(b.root, true, b.label != "") > int64(l.rootEntryCount)*dirEntrySize {
		return fmt.Errorf("%w: root directory holds at most %d entries",
			ErrNoSpace, l.rootEntryCount)
	}
	if err := b.allocate(l, b.root); err != nil {
		return err
	}

	w := &volumeWriter{img: img, start: start, length: length, l: l}
	if err := w.writeBootRegion(b); err != nil {
		return err
	}
	if err := w.writeFATs(); err != nil {
		return err
	}
	if err := w.writeRootDir(b); err != nil {
		return err
	}
	return w.writeTree(b.root)
}

// assignShortNames derives 8.3 fields for all children of dir,
// disambiguating with numeric tails within the directory, then
// recurses.
func (b *Builder) assignShortNames(dir *buildNode) error {
	used := make(map[[11]byte]bool)
	for _, child := range dir.children {
		if child.name == "." || child.name == ".." {
			return fmt.Errorf("fat: reserved name %q", child.name)
		}
		child.shortField, child.needsLFN = makeShortName(child.name, used)
		if child.isDir {
			if err := b.assignShortNames(child); err != nil {
				return err
			}
		}
	}
	return nil
}

// dirEntryBytes is the encoded size of a directory's entry table.
func dirEntryBytes(dir *buildNode, isRoot, withLabel bool) int64 {
	var n int64
	if !isRoot {
		n += 2 * dirEntrySize // . and ..
	}
	if isRoot && withLabel {
		n += dirEntrySize
	}
	for _, child := range dir.children {
		n += dirEntrySize
		if child.needsLFN {
			units := len(utf16.Encode([]rune(child.name)))
			frags := (units + lfnUnitsPerFrag - 1) / lfnUnitsPerFrag
			n += int64(frags) * dirEntrySize
		}
	}
	return n
}

func clustersFor(size, clusterSize int64) uint32 {
	n := (size + clusterSize - 1) / clusterSize
	if n == 0 {
		n = 1
	}
	return uint32(n)
}

// allocate walks the tree depth-first, reserving cluster chains for
// file contents and subdirectory tables.
func (b *Builder) allocate(l *layout, dir *buildNode) error {
	for _, child := range dir.children {
		var err error
		if child.isDir {
			need := clustersFor(dirEntryBytes(child, false, false), l.clusterSize())
			child.numClusters = need
			child.firstCluster, err = l.alloc(need)
		} else if len(child.data) > 0 {
			need := uint32((int64(len(child.data)) + l.clusterSize() - 1) / l.clusterSize())
			child.numClusters = need
			child.firstCluster, err = l.alloc(need)
		}
		if err != nil {
			return err
		}
	}
	for _, child := range dir.children {
		if child.isDir {
			if err := b.allocate(l, child); err != nil {
				return err
			}
		}
	}
	return nil
}

// volumeWriter serializes a planned layout into the image.
type volumeWriter struct {
	img    *diskimage.Image
	start  int64
	length int64
	l      *layout
}

func (w *volumeWriter) writeAt(p []byte, off int64) error {
	if off+int64(len(p)) > w.length {
		return fmt.Errorf("%w: volume-relative range [%d, %d) outside volume of %d bytes",
			diskimage.ErrOutOfBounds, off, off+int64(len(p)), w.length)
	}
	return w.img.WriteAt(p, w.start+off)
}

func (w *volumeWriter) writeBootRegion(b *Builder) error {
	// Zero the whole reserved + FAT + root region so that rebuilding
	// over a dirty range cannot leak stale structures.
	zero := make([]byte, w.l.dataOffset)
	if err := w.writeAt(zero, 0); err != nil {
		return err
	}
	bs, err := encodeBootSector(w.l, b.label, b.volumeID)
	if err != nil {
		return err
	}
	if err := w.writeAt(bs, 0); err != nil {
		return err
	}
	if w.l.typ == TypeFAT32 {
		return w.writeAt(encodeFSInfo(), int64(w.l.fsInfoSector)*int64(w.l.bytesPerSector))
	}
	return nil
}

func (w *volumeWriter) writeFATs() error {
	raw := make([]byte, int64(w.l.fatSize)*int64(w.l.bytesPerSector))

	// The two reserved entries carry the media descriptor and an
	// end-of-chain marker.
	w.l.fat[0] = w.l.eoc()&^0xFF | mediaHardDisk
	w.l.fat[1] = w.l.eoc()
	for n := uint32(0); n < uint32(len(w.l.fat)); n++ {
		val := w.l.fat[n]
		switch w.l.typ {
		case TypeFAT12:
			off := n + n/2
			putFAT12Entry(raw[off:off+2], n, uint16(val))
		case TypeFAT16:
			binary.LittleEndian.PutUint16(raw[2*n:], uint16(val))
		default:
			binary.LittleEndian.PutUint32(raw[4*n:], val)
		}
	}

	for i := int64(0); i < int64(w.l.numFATs); i++ {
		if err := w.writeAt(raw, w.l.fatOffset+i*int64(len(raw))); err != nil {
			return err
		}
	}
	return nil
}

func (w *volumeWriter) writeRootDir(b *Builder) error {
	raw := encodeDirEntries(b.root, true, b.label)
	if w.l.typ == TypeFAT32 {
		return w.writeDirChain(b.root, raw)
	}
	return w.writeAt(raw, w.l.rootDirOffset)
}

// writeDirChain zero-pads a directory table to whole clusters before
// writing it. Directories have no size field to truncate reads by, so
// stale bytes in the table's last cluster would otherwise parse as
// entries when building over a previously used range.
func (w *volumeWriter) writeDirChain(node *buildNode, raw []byte) error {
	cs := w.l.clusterSize()
	padded := int64(clustersFor(int64(len(raw)), cs)) * cs
	raw = append(raw, make([]byte, padded-int64(len(raw)))...)
	return w.writeChain(node, raw)
}

// writeChain writes raw across the node's cluster chain. alloc hands
// out contiguous runs, so consecutive clusters hold consecutive data.
func (w *volumeWriter) writeChain(node *buildNode, raw []byte) error {
	cs := w.l.clusterSize()
	cluster := node.firstCluster
	for len(raw) > 0 {
		chunk := raw
		if int64(len(chunk)) > cs {
			chunk = chunk[:cs]
		}
		off := w.l.dataOffset + int64(cluster-2)*cs
		if err := w.writeAt(chunk, off); err != nil {
			return err
		}
		raw = raw[len(chunk):]
		cluster++
	}
	return nil
}

func (w *volumeWriter) writeTree(dir *buildNode) error {
	for _, child := range dir.children {
		if child.isDir {
			if err := w.writeDirChain(child, encodeDirEntries(child, false, "")); err != nil {
				return err
			}
			if err := w.writeTree(child); err != nil {
				return err
			}
		} else if len(child.data) > 0 {
			if err := w.writeChain(child, child.data); err != nil {
				return err
			}
		}
	}
	return nil
}

// encodeDirEntries renders a directory table: the optional volume
// label (root only), dot entries (subdirectories only), then one
// record per child preceded by its long-name fragments.
func encodeDirEntries(dir *buildNode, isRoot bool, label string) []byte {
	var buf bytes.Buffer
	if isRoot && label != "" {
		var rec [dirEntrySize]byte
		copy(rec[:11], "           ")
		copy(rec[:11], label)
		rec[11] = AttrVolumeLabel
		buf.Write(rec[:])
	}
	if !isRoot {
		buf.Write(encodeDotEntry(".", dir.firstCluster, dir.modTime))
		parentCluster := uint32(0)
		if dir.parent != nil && dir.parent.parent != nil {
			parentCluster = dir.parent.firstCluster
		}
		buf.Write(encodeDotEntry("..", parentCluster, dir.modTime))
	}
	for _, child := range dir.children {
		if child.needsLFN {
			for _, rec := range longNameRecords(child.name, shortNameChecksum(child.shortField[:])) {
				buf.Write(rec)
			}
		}
		buf.Write(encodeShortEntry(child))
	}
	return buf.Bytes()
}

func encodeDotEntry(name string, cluster uint32, modTime time.Time) []byte {
	rec := make([]byte, dirEntrySize)
	copy(rec[:11], "           ")
	copy(rec[:11], name)
	rec[11] = AttrDirectory
	timeField, dateField := dosTime(modTime)
	binary.LittleEndian.PutUint16(rec[22:], timeField)
	binary.LittleEndian.PutUint16(rec[24:], dateField)
	binary.LittleEndian.PutUint16(rec[20:], uint16(cluster>>16))
	binary.LittleEndian.PutUint16(rec[26:], uint16(cluster))
	return rec
}

func encodeShortEntry(node *buildNode) []byte {
	rec := make([]byte, dirEntrySize)
	copy(rec[:11], node.shortField[:])
	if node.isDir {
		rec[11] = AttrDirectory
	} else {
		rec[11] = AttrArchive
	}
	timeField, dateField := dosTime(node.modTime)
	binary.LittleEndian.PutUint16(rec[14:], timeField) // creation
	binary.LittleEndian.PutUint16(rec[16:], dateField)
	binary.LittleEndian.PutUint16(rec[18:], dateField) // last access
	binary.LittleEndian.PutUint16(rec[22:], timeField) // last write
	binary.LittleEndian.PutUint16(rec[24:], dateField)
	binary.LittleEndian.PutUint16(rec[20:], uint16(node.firstCluster>>16))
	binary.LittleEndian.PutUint16(rec[26:], uint16(node.firstCluster))
	if !node.isDir {
		binary.LittleEndian.PutUint32(rec[28:], uint32(len(node.data)))
	}
	return rec
}

func encodeBootSector(l *layout, label string, volumeID uint32) ([]byte, error) {
	var labelField [11]byte
	copy(labelField[:], "           ")
	copy(labelField[:], label)
	var typeField [8]byte
	copy(typeField[:], fmt.Sprintf("%-8s", l.typ))
	var oem [8]byte
	copy(oem[:], builderOEMName)

	totalSectors16 := uint16(0)
	totalSectors32 := l.totalSectors
	if l.typ != TypeFAT32 && l.totalSectors < 0x10000 {
		totalSectors16 = uint16(l.totalSectors)
		totalSectors32 = 0
	}
	fatSize16 := uint16(0)
	if l.typ != TypeFAT32 {
		fatSize16 = uint16(l.fatSize)
	}

	fields := []interface{}{
		[3]byte{0xEB, 0x3C, 0x90}, // x86 jump
		oem,
		uint16(l.bytesPerSector),
		uint8(l.sectorsPerCluster),
		uint16(l.reservedSectors),
		uint8(l.numFATs),
		uint16(l.rootEntryCount),
		totalSectors16,
		uint8(mediaHardDisk),
		fatSize16,
		uint16(32),        // sectors per track, legacy CHS geometry
		uint16(4),         // heads
		uint32(0),         // hidden sectors
		totalSectors32,
	}
	if l.typ == TypeFAT32 {
		fields = append(fields,
			l.fatSize,
			uint16(0), // ext flags: all FATs mirrored
			uint16(0), // version 0.0
			l.rootCluster,
			l.fsInfoSector,
			uint16(0), // no backup boot sector
			[12]byte{},
			uint8(0x80),
			uint8(0),
			uint8(0x29),
			volumeID,
			labelField,
			typeField,
		)
	} else {
		fields = append(fields,
			uint8(0x80),
			uint8(0),
			uint8(0x29),
			volumeID,
			labelField,
			typeField,
		)
	}

	var buf bytes.Buffer
	for _, v := range fields {
		if err := binary.Write(&buf, binary.LittleEndian, v); err != nil {
			return nil, err
		}
	}
	raw := make([]byte, l.bytesPerSector)
	copy(raw, buf.Bytes())
	binary.LittleEndian.PutUint16(raw[510:], bootSectorSignature)
	return raw, nil
}

// encodeFSInfo renders a FAT32 FS-Info sector with unknown free-count
// hints, which every implementation must tolerate.
func encodeFSInfo() []byte {
	raw := make([]byte, 512)
	binary.LittleEndian.PutUint32(raw[0:], 0x41615252)
	binary.LittleEndian.PutUint32(raw[484:], 0x61417272)
	binary.LittleEndian.PutUint32(raw[488:], 0xFFFFFFFF) // free cluster count unknown
	binary.LittleEndian.PutUint32(raw[492:], 0xFFFFFFFF) // next free cluster unknown
	binary.LittleEndian.PutUint32(raw[508:], 0xAA550000)
	return raw
}
