package vm

import "goros/defs"
import "goros/ustr"
import "goros/util"

/// Virtptr_t addresses memory in a task's address space. The kernel
/// accesses it page by page through the translation helpers, which
/// transparently resolve copy-on-write faults on writes. A permissive
/// pointer bypasses permission checks; the kernel uses it when it must
/// write to a user page the user itself may not write, like an ELF
/// segment mapped read-only.
type Virtptr_t struct {
	Addr       uintptr
	Mem        *Memspace_t
	Permissive bool
}

/// Uptr builds a pointer into the given address space.
func Uptr(ms *Memspace_t, addr uintptr) Virtptr_t {
	return Virtptr_t{Addr: addr, Mem: ms}
}

/// Uptrperm builds a permission-bypassing pointer.
func Uptrperm(ms *Memspace_t, addr uintptr) Virtptr_t {
	return Virtptr_t{Addr: addr, Mem: ms, Permissive: true}
}

/// Off returns the pointer advanced by n bytes.
func (vp Virtptr_t) Off(n int) Virtptr_t {
	vp.Addr = uintptr(int(vp.Addr) + n)
	return vp
}

// chunk maps the bytes from vp.Addr+done to the end of that page,
// capped at want.
func (vp Virtptr_t) chunk(done, want int, write bool) ([]uint8, defs.Err_t) {
	va := vp.Addr + uintptr(done)
	pa := vp.Mem.Virt_to_phys(va, write, vp.Permissive)
	if pa == 0 {
		return nil, -defs.EFAULT
	}
	sl := vp.Mem.phys.Dmap8(pa)
	if len(sl) > want {
		sl = sl[:want]
	}
	return sl, 0
}

/// Copyin copies len(dst) bytes from the target memory into dst.
func (vp Virtptr_t) Copyin(dst []uint8) defs.Err_t {
	done := 0
	for done < len(dst) {
		src, err := vp.chunk(done, len(dst)-done, false)
		if err != 0 {
			return err
		}
		done += copy(dst[done:], src)
	}
	return 0
}

/// Copyout copies src into the target memory.
func (vp Virtptr_t) Copyout(src []uint8) defs.Err_t {
	done := 0
	for done < len(src) {
		dst, err := vp.chunk(done, len(src)-done, true)
		if err != 0 {
			return err
		}
		done += copy(dst, src[done:])
	}
	return 0
}

/// Memset writes n copies of b.
func (vp Virtptr_t) Memset(b uint8, n int) defs.Err_t {
	done := 0
	for done < n {
		dst, err := vp.chunk(done, n-done, true)
		if err != 0 {
			return err
		}
		for i := range dst {
			dst[i] = b
		}
		done += len(dst)
	}
	return 0
}

/// Readint reads a naturally aligned little-endian integer of size bytes.
func (vp Virtptr_t) Readint(size int) (uint64, defs.Err_t) {
	var buf [8]uint8
	if err := vp.Copyin(buf[:size]); err != 0 {
		return 0, err
	}
	return uint64(util.Readn(buf[:], size, 0)), 0
}

/// Writeint writes a little-endian integer of size bytes.
func (vp Virtptr_t) Writeint(size int, v uint64) defs.Err_t {
	var buf [8]uint8
	util.Writen(buf[:], size, 0, int(v))
	return vp.Copyout(buf[:size])
}

/// Str copies a NUL-terminated string of at most lenmax bytes.
func (vp Virtptr_t) Str(lenmax int) (ustr.Ustr, defs.Err_t) {
	s := ustr.MkUstr()
	done := 0
	for {
		src, err := vp.chunk(done, lenmax+1-done, false)
		if err != 0 {
			return nil, err
		}
		for _, c := range src {
			if c == 0 {
				return s, 0
			}
			s = append(s, c)
		}
		done += len(src)
		if len(s) > lenmax {
			return nil, -defs.ENAMETOOLONG
		}
	}
}

/// Push copies data below the pointer, stack fashion, and returns the new
/// stack pointer.
func (vp Virtptr_t) Push(data []uint8) (Virtptr_t, defs.Err_t) {
	vp.Addr -= uintptr(len(data))
	err := vp.Copyout(data)
	return vp, err
}

/// Pop copies len(data) bytes from the pointer and returns the advanced
/// pointer.
func (vp Virtptr_t) Pop(data []uint8) (Virtptr_t, defs.Err_t) {
	err := vp.Copyin(data)
	vp.Addr += uintptr(len(data))
	return vp, err
}
