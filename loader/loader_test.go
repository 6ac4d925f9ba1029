package loader

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goros/defs"
	"goros/dev"
	"goros/fs"
	"goros/mem"
	"goros/minix"
	"goros/proc"
	"goros/task"
	"goros/ustr"
	"goros/util"
	"goros/vm"
)

func TestMain(m *testing.M) {
	phys := mem.Phys_init(8192)
	mem.Kheap_init(phys)
	mem.Pageref_init()
	task.Mkhart(0)
	os.Exit(m.Run())
}

/// mkelf builds a minimal ELF64 RISC-V executable with one loadable
/// RX segment at vaddr containing code, plus bss bytes of zero fill.
func mkelf(code []uint8, vaddr, entry uint64, bss int) []uint8 {
	const (
		ehsize  = 64
		phsize  = 56
		segoff  = 128
	)
	img := make([]uint8, segoff+len(code))
	img[0], img[1], img[2], img[3] = 0x7f, 'E', 'L', 'F'
	img[4] = 2 // 64-bit
	img[5] = 1 // little-endian
	img[6] = 1 // version
	util.Writen(img, 2, 16, 2)   // ET_EXEC
	util.Writen(img, 2, 18, 243) // EM_RISCV
	util.Writen(img, 4, 20, 1)
	util.Writen(img, 8, 24, int(entry))
	util.Writen(img, 8, 32, ehsize) // phoff
	util.Writen(img, 2, 52, ehsize)
	util.Writen(img, 2, 54, phsize)
	util.Writen(img, 2, 56, 1) // phnum
	// one PT_LOAD program header
	ph := ehsize
	util.Writen(img, 4, ph+0, 1)   // PT_LOAD
	util.Writen(img, 4, ph+4, 0x5) // R+X
	util.Writen(img, 8, ph+8, segoff)
	util.Writen(img, 8, ph+16, int(vaddr))
	util.Writen(img, 8, ph+32, len(code))
	util.Writen(img, 8, ph+40, len(code)+bss)
	copy(img[segoff:], code)
	return img
}

func mkvfsworld(t *testing.T, files []minix.Fileent_t) *fs.Vfs_t {
	img, err := minix.Buildimage(4<<20, 256, files)
	require.Equal(t, defs.Err_t(0), err)
	vfs := fs.Mkvfs()
	rd := dev.Mkramdisk(img)
	blk := fs.Mkblknode(rd, nil)
	devf := fs.Mkfile(blk, ustr.Ustr("boot:[disk]"), defs.O_READ|defs.O_WRITE)
	sb, merr := minix.Mount(devf, vfs.Nextsbid())
	require.Equal(t, defs.Err_t(0), merr)
	devf.Close()
	vfs.Mountroot(sb)
	return vfs
}

func TestExecLoadsImage(t *testing.T) {
	code := []uint8{0x13, 0x00, 0x00, 0x00, 0xef, 0xbe, 0xad, 0xde}
	elfimg := mkelf(code, 0x10000, 0x10000, 100)
	vfs := mkvfsworld(t, []minix.Fileent_t{{
		Path: "/bin/hello",
		Mode: defs.Typemode(defs.T_REG) | defs.MODE_OGA_RW | defs.MODE_O_X | defs.MODE_A_X,
		Data: elfimg,
	}})
	tk := task.Mktask(task.DEFAULT_PRIORITY)
	p, err := proc.Mkproc(tk, nil)
	require.Equal(t, defs.Err_t(0), err)
	err = Exec(vfs, p, ustr.Ustr("/bin/hello"),
		[]ustr.Ustr{ustr.Ustr("/bin/hello"), ustr.Ustr("arg1")},
		[]ustr.Ustr{ustr.Ustr("TERM=goros")})
	require.Equal(t, defs.Err_t(0), err)

	assert.Equal(t, uintptr(0x10000), tk.Frame.Pc)
	assert.Equal(t, uintptr(2), tk.Frame.Regs[task.REG_A0])

	// the code bytes landed in the new space
	var got [8]uint8
	require.Equal(t, defs.Err_t(0),
		vm.Uptrperm(p.Mem, 0x10000).Copyin(got[:]))
	assert.Equal(t, code, got[:])
	// the bss tail reads zero
	var z [4]uint8
	require.Equal(t, defs.Err_t(0),
		vm.Uptrperm(p.Mem, 0x10008).Copyin(z[:]))
	assert.Equal(t, [4]uint8{}, z)
	// the heap starts past the highest mapped page
	assert.Equal(t, uintptr(0x11000), p.Mem.StartBrk)

	// argv strings are reachable through the argv array in a1
	argv := tk.Frame.Regs[task.REG_A1]
	a0ptr, rerr := vm.Uptr(p.Mem, argv).Readint(8)
	require.Equal(t, defs.Err_t(0), rerr)
	s, serr := vm.Uptr(p.Mem, uintptr(a0ptr)).Str(64)
	require.Equal(t, defs.Err_t(0), serr)
	assert.Equal(t, "/bin/hello", s.String())
	a1ptr, _ := vm.Uptr(p.Mem, argv+8).Readint(8)
	s, _ = vm.Uptr(p.Mem, uintptr(a1ptr)).Str(64)
	assert.Equal(t, "arg1", s.String())
	term, _ := vm.Uptr(p.Mem, argv+16).Readint(8)
	assert.Equal(t, uint64(0), term)

	envp := tk.Frame.Regs[task.REG_A2]
	e0, _ := vm.Uptr(p.Mem, envp).Readint(8)
	s, _ = vm.Uptr(p.Mem, uintptr(e0)).Str(64)
	assert.Equal(t, "TERM=goros", s.String())
	p.Exit(0)
}

func TestExecRejectsGarbage(t *testing.T) {
	vfs := mkvfsworld(t, []minix.Fileent_t{{
		Path: "/bin/bad",
		Mode: defs.Typemode(defs.T_REG) | defs.MODE_OGA_RW | defs.MODE_O_X | defs.MODE_A_X,
		Data: []uint8("#!/bin/interp\n"),
	}})
	tk := task.Mktask(task.DEFAULT_PRIORITY)
	p, err := proc.Mkproc(tk, nil)
	require.Equal(t, defs.Err_t(0), err)
	err = Exec(vfs, p, ustr.Ustr("/bin/bad"), nil, nil)
	assert.Equal(t, -defs.ENOEXEC, err)
	p.Exit(0)
}

func TestExecSetuid(t *testing.T) {
	code := []uint8{0x13, 0x00, 0x00, 0x00}
	elfimg := mkelf(code, 0x10000, 0x10000, 0)
	vfs := mkvfsworld(t, []minix.Fileent_t{{
		Path: "/bin/su",
		Mode: defs.Typemode(defs.T_REG) | defs.MODE_OGA_RW |
			defs.MODE_O_X | defs.MODE_A_X | defs.MODE_SETUID,
		Data: elfimg,
	}})
	tk := task.Mktask(task.DEFAULT_PRIORITY)
	p, err := proc.Mkproc(tk, nil)
	require.Equal(t, defs.Err_t(0), err)
	p.Ruid, p.Euid, p.Suid = 1000, 1000, 1000
	// the binary is owned by root
	err = Exec(vfs, p, ustr.Ustr("/bin/su"), nil, nil)
	require.Equal(t, defs.Err_t(0), err)
	assert.Equal(t, uint32(0), p.Euid)
	assert.Equal(t, uint32(1000), p.Ruid)
	p.Exit(0)
}
