package minix

import "goros/defs"
import "goros/util"

const maxMapRead = 1 << 16

// getFreeBit scans the bitmap at offset for a clear bit among the first
// size bits, sets it, and returns its index.
func (m *Minixsuper_t) getFreeBit(offset int, size uint32) (uint32, defs.Err_t) {
	m.mapslock.Lock()
	defer m.mapslock.Unlock()
	pos := uint32(0)
	left := size
	for left > 0 {
		chunk := int(util.Min(uint32((left+7)/8), uint32(maxMapRead)))
		buf := make([]uint8, chunk)
		if err := m.devread(buf, offset); err != 0 {
			return 0, err
		}
		for i := 0; i < chunk && left > 0; i++ {
			b := buf[i]
			for j := 0; j < 8 && left > 0; j++ {
				if b>>uint(j)&1 == 0 {
					one := []uint8{b | 1<<uint(j)}
					if err := m.devwrite(one, offset+i); err != 0 {
						return 0, err
					}
					return pos, 0
				}
				pos++
				left--
			}
		}
		offset += chunk
	}
	return 0, -defs.ENOSPC
}

// clearBit clears bit pos of the bitmap at offset.
func (m *Minixsuper_t) clearBit(offset int, pos uint32) defs.Err_t {
	m.mapslock.Lock()
	defer m.mapslock.Unlock()
	one := make([]uint8, 1)
	boff := offset + int(pos/8)
	if err := m.devread(one, boff); err != 0 {
		return err
	}
	one[0] &^= 1 << (pos % 8)
	return m.devwrite(one, boff)
}

func (m *Minixsuper_t) imapoffset() int { return 2 * BLOCKSIZE }

func (m *Minixsuper_t) zmapoffset() int {
	return (2 + int(m.disk.ImapBlocks)) * BLOCKSIZE
}

// getFreeInode allocates an inode number from the inode bitmap.
func (m *Minixsuper_t) getFreeInode() (uint32, defs.Err_t) {
	return m.getFreeBit(m.imapoffset(), m.disk.Ninodes)
}

// getFreeZone allocates an absolute zone number from the zone bitmap.
func (m *Minixsuper_t) getFreeZone() (uint32, defs.Err_t) {
	return m.getFreeBit(m.zmapoffset(), m.disk.Zones)
}

func (m *Minixsuper_t) freeInode(i uint32) defs.Err_t {
	return m.clearBit(m.imapoffset(), i)
}

func (m *Minixsuper_t) freeZone(z uint32) defs.Err_t {
	return m.clearBit(m.zmapoffset(), z)
}
