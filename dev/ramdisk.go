package dev

import "sync"

import "goros/defs"

const ramSector = 512

/// Ramdisk_t is a memory-backed block device used for tests and for
/// initrd-style boot images.
type Ramdisk_t struct {
	sync.Mutex
	data []uint8
}

/// Mkramdisk wraps the given image bytes; the image is used in place.
func Mkramdisk(image []uint8) *Ramdisk_t {
	return &Ramdisk_t{data: image}
}

/// Mkramdisksz creates an empty RAM disk of size bytes.
func Mkramdisksz(size int) *Ramdisk_t {
	return &Ramdisk_t{data: make([]uint8, size)}
}

func (rd *Ramdisk_t) Sectorsize() int { return ramSector }

func (rd *Ramdisk_t) Size() uint64 { return uint64(len(rd.data)) }

func (rd *Ramdisk_t) check(n int, off uint64) defs.Err_t {
	if n%ramSector != 0 || off%ramSector != 0 {
		return -defs.EINVAL
	}
	if off+uint64(n) > uint64(len(rd.data)) {
		return -defs.EIO
	}
	return 0
}

func (rd *Ramdisk_t) Readat(buf []uint8, off uint64) defs.Err_t {
	if err := rd.check(len(buf), off); err != 0 {
		return err
	}
	rd.Lock()
	copy(buf, rd.data[off:])
	rd.Unlock()
	return 0
}

func (rd *Ramdisk_t) Writeat(buf []uint8, off uint64) defs.Err_t {
	if err := rd.check(len(buf), off); err != 0 {
		return err
	}
	rd.Lock()
	copy(rd.data[off:], buf)
	rd.Unlock()
	return 0
}

/// Bytes exposes the raw image, for the formatter and for tests.
func (rd *Ramdisk_t) Bytes() []uint8 { return rd.data }
