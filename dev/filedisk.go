package dev

import (
	"os"
	"sync"
)

import "goros/defs"

const fileSector = 512

/// Filedisk_t is a block device backed by a host file, used by the
/// hosted machine runner in place of a VirtIO disk.
type Filedisk_t struct {
	sync.Mutex
	f    *os.File
	size uint64
}

/// Openfiledisk opens an image file as a block device.
func Openfiledisk(path string) (*Filedisk_t, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return &Filedisk_t{f: f, size: uint64(st.Size())}, nil
}

func (fd *Filedisk_t) Sectorsize() int { return fileSector }

func (fd *Filedisk_t) Size() uint64 { return fd.size }

func (fd *Filedisk_t) check(n int, off uint64) defs.Err_t {
	if n%fileSector != 0 || off%fileSector != 0 {
		return -defs.EINVAL
	}
	if off+uint64(n) > fd.size {
		return -defs.EIO
	}
	return 0
}

func (fd *Filedisk_t) Readat(buf []uint8, off uint64) defs.Err_t {
	if err := fd.check(len(buf), off); err != 0 {
		return err
	}
	fd.Lock()
	defer fd.Unlock()
	if _, err := fd.f.ReadAt(buf, int64(off)); err != nil {
		return -defs.EIO
	}
	return 0
}

func (fd *Filedisk_t) Writeat(buf []uint8, off uint64) defs.Err_t {
	if err := fd.check(len(buf), off); err != 0 {
		return err
	}
	fd.Lock()
	defer fd.Unlock()
	if _, err := fd.f.WriteAt(buf, int64(off)); err != nil {
		return -defs.EIO
	}
	return 0
}

/// Close flushes and closes the backing file.
func (fd *Filedisk_t) Close() error {
	return fd.f.Close()
}
