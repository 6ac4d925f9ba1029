package defs

/// File types, stored in mode bits 12..15.
const (
	T_FIFO = 1
	T_CHR  = 2
	T_DIR  = 4
	T_BLK  = 6
	T_REG  = 8
	T_LNK  = 10
	T_SOCK = 12
)

/// Mode_t is the 16-bit file mode: permission triplets plus the type
/// nibble.
type Mode_t uint16

/// Permission bits. "A" is all/other, "G" group, "O" owner; the layout
/// follows the on-disk format.
const (
	MODE_A_X Mode_t = 1 << 0
	MODE_A_W Mode_t = 1 << 1
	MODE_A_R Mode_t = 1 << 2
	MODE_G_X Mode_t = 1 << 3
	MODE_G_W Mode_t = 1 << 4
	MODE_G_R Mode_t = 1 << 5
	MODE_O_X Mode_t = 1 << 6
	MODE_O_W Mode_t = 1 << 7
	MODE_O_R Mode_t = 1 << 8
	MODE_STICKY Mode_t = 1 << 9
	MODE_SETUID Mode_t = 1 << 10
	MODE_SETGID Mode_t = 1 << 11
	MODE_TYPE   Mode_t = 0xf << 12

	MODE_A_RW  = MODE_A_R | MODE_A_W
	MODE_G_RW  = MODE_G_R | MODE_G_W
	MODE_O_RW  = MODE_O_R | MODE_O_W
	MODE_OG_RW = MODE_O_RW | MODE_G_RW
	MODE_OGA_RW = MODE_OG_RW | MODE_A_RW
)

/// Filetype extracts the type nibble from a mode.
func Filetype(mode Mode_t) int { return int(mode >> 12) }

/// Typemode builds the mode bits for a file type.
func Typemode(typ int) Mode_t { return Mode_t(typ) << 12 }

/// Open flags of the syscall ABI.
const (
	O_READ      = 0x1
	O_WRITE     = 0x2
	O_ACCESS    = 0x3
	O_APPEND    = 0x8
	O_CREAT     = 0x200
	O_TRUNC     = 0x400
	O_EXCL      = 0x800
	O_NONBLOCK  = 0x1000
	O_CLOEXEC   = 0x40000
	O_EXECUTE   = 0x100000
	O_DIRECTORY = 0x200000
	O_REGULAR   = 0x400000
)

/// Seek whence values.
const (
	SEEK_SET = 0
	SEEK_CUR = 1
	SEEK_END = 2
)

/// Per-descriptor flags.
const (
	FD_CLOEXEC = 0x1
)

/// Access request bits used by permission checks inside the VFS.
const (
	ACC_R = 1 << 0
	ACC_W = 1 << 1
	ACC_X = 1 << 2
	ACC_DIR = 1 << 3
	ACC_REG = 1 << 4
	ACC_CHMOD = 1 << 5
	ACC_CHOWN = 1 << 6
)

/// Stat_t is the stat record of the syscall ABI. Times are nanoseconds.
type Stat_t struct {
	Dev       uint64
	Id        uint64
	Mode      Mode_t
	Nlinks    uint64
	Uid       uint32
	Gid       uint32
	Rdev      uint64
	Size      uint64
	Blocksize uint64
	Blocks    uint64
	Atime     uint64
	Mtime     uint64
	Ctime     uint64
}

func wr(b []uint8, off int, v uint64, n int) {
	for i := 0; i < n; i++ {
		b[off+i] = uint8(v >> (8 * uint(i)))
	}
}

/// Statsize is the byte size of the stat record of the syscall ABI.
const Statsize = 90

/// Bytes encodes the stat record in its ABI layout: little-endian,
/// fields in declaration order, mode as u16 and the ids as u32.
func (st *Stat_t) Bytes() []uint8 {
	b := make([]uint8, Statsize)
	wr(b, 0, st.Dev, 8)
	wr(b, 8, st.Id, 8)
	wr(b, 16, uint64(st.Mode), 2)
	wr(b, 18, st.Nlinks, 8)
	wr(b, 26, uint64(st.Uid), 4)
	wr(b, 30, uint64(st.Gid), 4)
	wr(b, 34, st.Rdev, 8)
	wr(b, 42, st.Size, 8)
	wr(b, 50, st.Blocksize, 8)
	wr(b, 58, st.Blocks, 8)
	wr(b, 66, st.Atime, 8)
	wr(b, 74, st.Mtime, 8)
	wr(b, 82, st.Ctime, 8)
	return b
}

/// Device identifiers for the fixed kernel devices.
const (
	D_CONSOLE = 1
	D_RAWDISK = 2
	D_NULL    = 3
	D_ZERO    = 4
	D_FIRST   = D_CONSOLE
	D_LAST    = D_ZERO
)

/// Mkdev encodes a major and minor device number.
func Mkdev(maj, min int) uint64 {
	if min > 0xff {
		panic("bad minor")
	}
	return uint64(maj<<8|min) << 32
}

/// Unmkdev splits a device number into major and minor.
func Unmkdev(d uint64) (int, int) {
	return int(d >> 40), int(uint8(d >> 32))
}
