// Package minix implements the MINIX3 on-disk filesystem: superblock
// and inode codecs, the inode and zone bitmaps, recursive zone walks
// with a visitor, and the 64-byte directory records. All in-memory node
// state lives in the VFS layer; this engine reads and writes on-disk
// records on demand through the backing block-device file.
package minix

import (
	"bytes"
	"encoding/binary"
)

/// On-disk layout constants. The block size is fixed at 1 KiB; an
/// indirect block holds 256 zone pointers.
const (
	MAGIC      = 0x4d5a
	BLOCKSIZE  = 1024
	NUM_IPTRS  = BLOCKSIZE / 4
	IPTRS_LOG2 = 8
	INODESIZE  = 64
	DIRENTSIZE = 64
	NAMELEN    = 60
)

/// Disksb_t is the on-disk superblock, stored in block 1.
type Disksb_t struct {
	Ninodes       uint32
	Pad0          uint16
	ImapBlocks    uint16
	ZmapBlocks    uint16
	FirstDataZone uint16
	LogZoneSize   uint16
	Pad1          uint16
	MaxSize       uint32
	Zones         uint32
	Magic         uint16
	Pad2          uint16
	Blocksize     uint16
	DiskVersion   uint8
}

/// Diskinode_t is the on-disk inode record. Zone slots 0-6 are direct,
/// 7 single-indirect, 8 double-indirect, 9 triple-indirect.
type Diskinode_t struct {
	Mode   uint16
	Nlinks uint16
	Uid    uint16
	Gid    uint16
	Size   uint32
	Atime  uint32
	Mtime  uint32
	Ctime  uint32
	Zones  [10]uint32
}

/// Dirent_t is the fixed 64-byte directory record: an inode number and
/// a NUL-padded name.
type Dirent_t struct {
	Inode uint32
	Name  [NAMELEN]uint8
}

func encode(v interface{}) []uint8 {
	var b bytes.Buffer
	if err := binary.Write(&b, binary.LittleEndian, v); err != nil {
		panic("minix encode")
	}
	return b.Bytes()
}

func decode(buf []uint8, v interface{}) {
	if err := binary.Read(bytes.NewReader(buf), binary.LittleEndian, v); err != nil {
		panic("minix decode")
	}
}

/// Inodeoffset returns the byte offset of inode i on the device.
func Inodeoffset(sb *Disksb_t, i uint32) int {
	return (2+int(sb.ImapBlocks)+int(sb.ZmapBlocks))*BLOCKSIZE +
		int(i-1)*INODESIZE
}

/// Zoneoffset returns the byte offset of the given zone.
func Zoneoffset(zone uint32) int {
	return int(zone) * BLOCKSIZE
}

/// Entname returns the NUL-terminated name of a directory record.
func (de *Dirent_t) Entname() []uint8 {
	for i, c := range de.Name {
		if c == 0 {
			return de.Name[:i]
		}
	}
	return de.Name[:]
}

/// Setname stores name into the record, truncating to the field size.
func (de *Dirent_t) Setname(name []uint8) {
	n := copy(de.Name[:NAMELEN-1], name)
	for i := n; i < NAMELEN; i++ {
		de.Name[i] = 0
	}
}
