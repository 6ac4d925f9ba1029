package vm

import "goros/defs"
import "goros/util"

/// Userbuf_t adapts a user buffer to the filesystem's byte-mover
/// surface. Address lookups resolve page by page and writes trigger
/// copy-on-write faults transparently.
type Userbuf_t struct {
	userva uintptr
	len    int
	off    int
	as     *Memspace_t
}

/// Mkuserbuf wraps len bytes of user memory at userva.
func Mkuserbuf(as *Memspace_t, userva uintptr, len int) *Userbuf_t {
	return &Userbuf_t{userva: userva, len: len, as: as}
}

/// Remain returns the unread tail of the buffer.
func (ub *Userbuf_t) Remain() int {
	return ub.len - ub.off
}

/// Totalsz reports the full buffer size.
func (ub *Userbuf_t) Totalsz() int {
	return ub.len
}

func (ub *Userbuf_t) tx(buf []uint8, write bool) (int, defs.Err_t) {
	did := 0
	for len(buf) != 0 && ub.off != ub.len {
		n := util.Min(len(buf), ub.len-ub.off)
		vp := Uptr(ub.as, ub.userva+uintptr(ub.off))
		var err defs.Err_t
		if write {
			err = vp.Copyout(buf[:n])
		} else {
			err = vp.Copyin(buf[:n])
		}
		if err != 0 {
			return did, err
		}
		buf = buf[n:]
		ub.off += n
		did += n
	}
	return did, 0
}

/// Uioread copies user memory into dst.
func (ub *Userbuf_t) Uioread(dst []uint8) (int, defs.Err_t) {
	return ub.tx(dst, false)
}

/// Uiowrite copies src into user memory.
func (ub *Userbuf_t) Uiowrite(src []uint8) (int, defs.Err_t) {
	return ub.tx(src, true)
}
