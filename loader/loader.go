// Package loader loads ELF64 RISC-V executables into an address space
// and performs the process-replacing half of execve: fresh memory,
// stack and argument setup, close-on-exec sweep, and set-id handling.
package loader

import (
	"debug/elf"
	"io"
)

import "goros/defs"
import "goros/fs"
import "goros/mem"
import "goros/proc"
import "goros/task"
import "goros/ustr"
import "goros/util"
import "goros/vm"

/// Fixed user stack geometry.
const (
	USER_STACK_TOP  = uintptr(1) << 38
	USER_STACK_SIZE = uintptr(1) << 19
)

const maxPhdrs = 128

// filereader_t adapts an open VFS file to io.ReaderAt for debug/elf.
type filereader_t struct {
	f *fs.Vfsfile_t
}

func (r *filereader_t) ReadAt(p []byte, off int64) (int, error) {
	n, err := r.f.Readat(nil, fs.Mkfakebuf(p), int(off))
	if err != 0 {
		return 0, io.ErrUnexpectedEOF
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// allocpages maps [addr, addr+memsz): the file-backed span gets fresh
// owned frames, the zero-fill tail maps the zero page (copy-on-write
// when writable).
func allocpages(ms *vm.Memspace_t, addr, filesz, memsz uintptr, flags elf.ProgFlag) defs.Err_t {
	bits := vm.PTE_U | vm.PTE_OWNED | vm.PTE_AD
	if flags&elf.PF_X != 0 {
		bits |= vm.PTE_X
	}
	if flags&elf.PF_R != 0 {
		bits |= vm.PTE_R
	}
	writable := flags&elf.PF_W != 0
	if writable {
		bits |= vm.PTE_W
	}
	if bits&vm.PTE_RWX == 0 {
		bits |= vm.PTE_R
	}
	pgsz := uintptr(mem.PGSIZE)
	pos := addr &^ (pgsz - 1)
	for ; pos < addr+filesz; pos += pgsz {
		if ms.Lookup(pos)&vm.PTE_V != 0 {
			continue
		}
		pa, ok := mem.Physmem.Zalloc_page()
		if !ok {
			return -defs.ENOMEM
		}
		if !ms.Map_page(pos, pa, bits) {
			return -defs.ENOMEM
		}
	}
	for ; pos < addr+memsz; pos += pgsz {
		if ms.Lookup(pos)&vm.PTE_V != 0 {
			continue
		}
		zbits := bits
		if writable {
			zbits = (bits &^ vm.PTE_W) | vm.PTE_COPY
		}
		if !ms.Map_page(pos, mem.P_zeropg, zbits) {
			return -defs.ENOMEM
		}
	}
	return 0
}

/// Loadelf validates the executable and loads every PT_LOAD segment
/// into the address space with the requested permissions. It returns
/// the entry point.
func Loadelf(ms *vm.Memspace_t, f *fs.Vfsfile_t) (uintptr, defs.Err_t) {
	ef, err := elf.NewFile(&filereader_t{f: f})
	if err != nil {
		return 0, -defs.ENOEXEC
	}
	defer ef.Close()
	if ef.Class != elf.ELFCLASS64 || ef.Data != elf.ELFDATA2LSB ||
		ef.Machine != elf.EM_RISCV || ef.Type != elf.ET_EXEC ||
		len(ef.Progs) > maxPhdrs {
		return 0, -defs.ENOEXEC
	}
	for _, ph := range ef.Progs {
		if ph.Type != elf.PT_LOAD || ph.Memsz == 0 {
			continue
		}
		filesz := uintptr(util.Min(ph.Filesz, ph.Memsz))
		if err := allocpages(ms, uintptr(ph.Vaddr), filesz,
			uintptr(ph.Memsz), ph.Flags); err != 0 {
			return 0, err
		}
		left := int(filesz)
		off := int(ph.Off)
		va := uintptr(ph.Vaddr)
		buf := make([]uint8, util.Min(left, 1<<16))
		for left > 0 {
			chunk := buf[:util.Min(left, len(buf))]
			got, rerr := f.Readat(nil, fs.Mkfakebuf(chunk), off)
			if rerr != 0 {
				return 0, rerr
			}
			if got != len(chunk) {
				return 0, -defs.EIO
			}
			// segments mapped read-only still receive their bytes
			if cerr := vm.Uptrperm(ms, va).Copyout(chunk); cerr != 0 {
				return 0, cerr
			}
			left -= len(chunk)
			off += len(chunk)
			va += uintptr(len(chunk))
		}
	}
	return uintptr(ef.Entry), 0
}

// startbrk is the first page past the highest mapped page.
func startbrk(ms *vm.Memspace_t) uintptr {
	var last uintptr
	ms.All_pages_do(func(va uintptr, pte vm.Pte_t) vm.Pte_t {
		if va > last && va < USER_STACK_TOP-USER_STACK_SIZE {
			last = va
		}
		return pte
	})
	return last + uintptr(mem.PGSIZE)
}

// pushstrings copies the string block below sp and returns the new sp
// plus the user addresses of the strings.
func pushstrings(ms *vm.Memspace_t, sp uintptr, strs []ustr.Ustr) (uintptr, []uintptr, defs.Err_t) {
	addrs := make([]uintptr, len(strs))
	vp := vm.Uptr(ms, sp)
	for i := len(strs) - 1; i >= 0; i-- {
		data := append(append([]uint8{}, strs[i]...), 0)
		nvp, err := vp.Push(data)
		if err != 0 {
			return 0, nil, err
		}
		vp = nvp
		addrs[i] = vp.Addr
	}
	return vp.Addr, addrs, 0
}

// pusharray writes a NUL-terminated pointer array below sp.
func pusharray(ms *vm.Memspace_t, sp uintptr, addrs []uintptr) (uintptr, defs.Err_t) {
	buf := make([]uint8, (len(addrs)+1)*8)
	for i, a := range addrs {
		util.Writen(buf, 8, i*8, int(a))
	}
	nvp, err := vm.Uptr(ms, sp).Push(buf)
	if err != 0 {
		return 0, err
	}
	return nvp.Addr, 0
}

/// Exec replaces the process image with the executable at path. args
/// and envs were copied out of the old address space by the caller. On
/// success the task's frame is rebuilt with (argc, argv, envp) in
/// a0-a2 and the pc at the ELF entry.
func Exec(vfs *fs.Vfs_t, p *proc.Proc_t, path ustr.Ustr, args, envs []ustr.Ustr) defs.Err_t {
	f, err := vfs.Open(p.Cred(), path, defs.O_READ|defs.O_EXECUTE|defs.O_REGULAR, 0)
	if err != 0 {
		return err
	}
	defer f.Close()
	var st defs.Stat_t
	f.Stat(&st)
	ms, ok := vm.Mkmemspace()
	if !ok {
		return -defs.ENOMEM
	}
	entry, err := Loadelf(ms, f)
	if err != 0 {
		ms.Free()
		return err
	}
	brk := startbrk(ms)
	// fixed stack below the constant top
	if err := allocpages(ms, USER_STACK_TOP-USER_STACK_SIZE, 0,
		USER_STACK_SIZE, elf.PF_R|elf.PF_W); err != 0 {
		ms.Free()
		return err
	}
	sp := USER_STACK_TOP
	sp, envaddrs, err := pushstrings(ms, sp, envs)
	if err != 0 {
		ms.Free()
		return err
	}
	sp, argaddrs, err := pushstrings(ms, sp, args)
	if err != 0 {
		ms.Free()
		return err
	}
	sp &^= 7
	envp, err := pusharray(ms, sp, envaddrs)
	if err != 0 {
		ms.Free()
		return err
	}
	argv, err := pusharray(ms, envp, argaddrs)
	if err != 0 {
		ms.Free()
		return err
	}
	ms.StartBrk = brk
	ms.Brk = brk

	if st.Mode&defs.MODE_SETUID != 0 {
		p.Euid = st.Uid
	}
	if st.Mode&defs.MODE_SETGID != 0 {
		p.Egid = st.Gid
	}
	old := p.Mem
	p.Mem = ms
	old.Free()
	t := p.Maintask
	t.Frame.Init(argv, 0, entry, uintptr(ms.Rootpa()))
	t.Frame.Regs[task.REG_A0] = uintptr(len(args))
	t.Frame.Regs[task.REG_A1] = argv
	t.Frame.Regs[task.REG_A2] = envp
	p.Closeexecfds()
	return 0
}
