// Package vm implements per-process address spaces: Sv39-style
// three-level page tables kept in arena frames, copy-on-write sharing
// against the global frame reference table, and translation helpers used
// by the virtual-pointer copy routines.
package vm

import "sync"

import "goros/mem"
import "goros/util"

/// Pte_t is one Sv39 page table entry.
type Pte_t uint64

/// Hardware and software PTE bits. The two reserved-for-software bits
/// hold the copy-on-write mark and the ownership mark; an owned leaf
/// frame is released when the table is torn down.
const (
	PTE_V Pte_t = 1 << 0
	PTE_R Pte_t = 1 << 1
	PTE_W Pte_t = 1 << 2
	PTE_X Pte_t = 1 << 3
	PTE_U Pte_t = 1 << 4
	PTE_G Pte_t = 1 << 5
	PTE_A Pte_t = 1 << 6
	PTE_D Pte_t = 1 << 7
	PTE_COPY  Pte_t = 1 << 8
	PTE_OWNED Pte_t = 1 << 9

	PTE_RWX Pte_t = PTE_R | PTE_W | PTE_X
	PTE_AD  Pte_t = PTE_A | PTE_D
)

/// Pa extracts the physical frame address of the entry.
func (pte Pte_t) Pa() mem.Pa_t {
	return mem.Pa_t((pte >> 10) << 12)
}

/// Mkpte builds an entry pointing at pa with the given flag bits.
func Mkpte(pa mem.Pa_t, flags Pte_t) Pte_t {
	return Pte_t(pa>>12)<<10 | flags
}

// an entry is an interior table pointer when it is valid but has no
// access permissions
func (pte Pte_t) isleaf() bool {
	return pte&PTE_RWX != 0
}

const ptesPerPg = mem.PGSIZE / 8

/// Memspace_t is a process address space: a page table root plus the heap
/// break. The mutex protects the table structure; it is never held across
/// a user-pointer copy.
type Memspace_t struct {
	sync.Mutex
	root     mem.Pa_t
	StartBrk uintptr
	Brk      uintptr
	phys     *mem.Physmem_t
	refs     *mem.Pageref_t
}

/// Mkmemspace allocates an empty address space.
func Mkmemspace() (*Memspace_t, bool) {
	pa, ok := mem.Physmem.Zalloc_page()
	if !ok {
		return nil, false
	}
	return &Memspace_t{root: pa, phys: mem.Physmem, refs: mem.Pagerefs}, true
}

/// Rootpa returns the physical address of the root table, the value a
/// hart loads into its translation register.
func (ms *Memspace_t) Rootpa() mem.Pa_t {
	return ms.root
}

func (ms *Memspace_t) rdpte(table mem.Pa_t, idx int) Pte_t {
	return Pte_t(util.Readn(ms.phys.Dmap(table), 8, idx*8))
}

func (ms *Memspace_t) wrpte(table mem.Pa_t, idx int, pte Pte_t) {
	util.Writen(ms.phys.Dmap(table), 8, idx*8, int(pte))
}

func vpn(va uintptr, level int) int {
	return int(va>>(12+9*uint(level))) & 0x1ff
}

// walk returns the table page and index of the leaf entry for va,
// creating interior tables when create is set.
func (ms *Memspace_t) walk(va uintptr, create bool) (mem.Pa_t, int, bool) {
	table := ms.root
	for level := 2; level > 0; level-- {
		idx := vpn(va, level)
		pte := ms.rdpte(table, idx)
		if pte&PTE_V == 0 {
			if !create {
				return 0, 0, false
			}
			npa, ok := ms.phys.Zalloc_page()
			if !ok {
				return 0, 0, false
			}
			ms.wrpte(table, idx, Mkpte(npa, PTE_V))
			table = npa
			continue
		}
		if pte.isleaf() {
			// huge pages are not used by this kernel
			return 0, 0, false
		}
		table = pte.Pa()
	}
	return table, vpn(va, 0), true
}

func (ms *Memspace_t) lookup(va uintptr) Pte_t {
	table, idx, ok := ms.walk(va, false)
	if !ok {
		return 0
	}
	return ms.rdpte(table, idx)
}

func (ms *Memspace_t) store(va uintptr, pte Pte_t) bool {
	table, idx, ok := ms.walk(va, true)
	if !ok {
		return false
	}
	ms.wrpte(table, idx, pte)
	return true
}

/// Map_page installs a mapping from va to pa with the given flags. The
/// COPY/WRITE exclusion is enforced here.
func (ms *Memspace_t) Map_page(va uintptr, pa mem.Pa_t, flags Pte_t) bool {
	if flags&PTE_COPY != 0 && flags&PTE_W != 0 {
		panic("copy-on-write entry with write permission")
	}
	ms.Lock()
	defer ms.Unlock()
	return ms.store(va, Mkpte(pa, flags|PTE_V))
}

/// Lookup returns the leaf entry for va, or 0 when unmapped.
func (ms *Memspace_t) Lookup(va uintptr) Pte_t {
	ms.Lock()
	defer ms.Unlock()
	return ms.lookup(va)
}

// release drops this space's claim on a leaf frame: owned frames are
// deallocated once the last reference disappears, the zero page is left
// alone.
func (ms *Memspace_t) release(pte Pte_t) {
	if pte&PTE_OWNED == 0 {
		return
	}
	pa := pte.Pa()
	if pa == mem.P_zeropg {
		return
	}
	if ms.refs.Hasother(pa) {
		ms.refs.Refdown(pa)
	} else {
		ms.phys.Dealloc_page(pa)
	}
}

/// Unmap_and_free removes the mapping at va and releases the frame if
/// this space owned it.
func (ms *Memspace_t) Unmap_and_free(va uintptr) {
	ms.Lock()
	defer ms.Unlock()
	table, idx, ok := ms.walk(va, false)
	if !ok {
		return
	}
	pte := ms.rdpte(table, idx)
	if pte&PTE_V == 0 {
		return
	}
	ms.release(pte)
	ms.wrpte(table, idx, 0)
}

/// Handle_pgfault resolves a write fault on a copy-on-write page: the
/// zero page is replaced by a fresh zeroed frame, a shared frame is
/// copied, an exclusively held frame is claimed in place. Any other fault
/// fails.
func (ms *Memspace_t) Handle_pgfault(va uintptr) bool {
	ms.Lock()
	defer ms.Unlock()
	return ms.pgfault(va)
}

func (ms *Memspace_t) pgfault(va uintptr) bool {
	table, idx, ok := ms.walk(va, false)
	if !ok {
		return false
	}
	pte := ms.rdpte(table, idx)
	if pte&PTE_V == 0 || pte&PTE_COPY == 0 {
		return false
	}
	pa := pte.Pa()
	if pa == mem.P_zeropg {
		npa, ok := ms.phys.Zalloc_page()
		if !ok {
			return false
		}
		flags := (pteflags(pte) &^ PTE_COPY) | PTE_W | PTE_D
		ms.wrpte(table, idx, Mkpte(npa, flags))
		return true
	}
	if ms.refs.Hasother(pa) {
		npa, ok := ms.phys.Alloc_page()
		if !ok {
			return false
		}
		copy(ms.phys.Dmap(npa), ms.phys.Dmap(pa))
		ms.refs.Refdown(pa)
		pte = Mkpte(npa, pteflags(pte))
	}
	flags := pteflags(pte) | PTE_W | PTE_D
	flags &^= PTE_COPY
	ms.wrpte(table, idx, Mkpte(pte.Pa(), flags))
	return true
}

func pteflags(pte Pte_t) Pte_t {
	return pte & 0x3ff
}

/// Virt_to_phys translates va, returning 0 on failure. A write through a
/// copy-on-write entry transparently resolves the fault. permissive
/// bypasses permission checks but never the copy-on-write resolution.
func (ms *Memspace_t) Virt_to_phys(va uintptr, write, permissive bool) mem.Pa_t {
	ms.Lock()
	defer ms.Unlock()
	pte := ms.lookup(va)
	if pte&PTE_V == 0 {
		return 0
	}
	if write {
		if pte&PTE_W != 0 {
			return pte.Pa() + mem.Pa_t(va)&mem.PGOFFSET
		}
		if pte&PTE_COPY != 0 {
			if !ms.pgfault(va) {
				return 0
			}
			pte = ms.lookup(va)
			return pte.Pa() + mem.Pa_t(va)&mem.PGOFFSET
		}
		if permissive {
			return pte.Pa() + mem.Pa_t(va)&mem.PGOFFSET
		}
		return 0
	}
	if pte&PTE_R != 0 || permissive {
		return pte.Pa() + mem.Pa_t(va)&mem.PGOFFSET
	}
	return 0
}

func (ms *Memspace_t) clonelevel(src, dst mem.Pa_t, level int) bool {
	for i := 0; i < ptesPerPg; i++ {
		pte := ms.rdpte(src, i)
		if pte&PTE_V == 0 {
			continue
		}
		if !pte.isleaf() {
			npa, ok := ms.phys.Zalloc_page()
			if !ok {
				return false
			}
			if !ms.clonelevel(pte.Pa(), npa, level-1) {
				return false
			}
			ms.wrpte(dst, i, Mkpte(npa, PTE_V))
			continue
		}
		npte := pte
		if pte&PTE_OWNED != 0 && pte.Pa() != mem.P_zeropg {
			ms.refs.Refup(pte.Pa())
			if pte&PTE_W != 0 {
				npte = Mkpte(pte.Pa(), (pteflags(pte)&^PTE_W)|PTE_COPY)
				ms.wrpte(src, i, npte)
			}
		}
		ms.wrpte(dst, i, npte)
	}
	return true
}

/// Clone deep-copies the table structure while sharing leaf frames: every
/// owned writable leaf becomes copy-on-write on both sides and the frame
/// reference count grows by one.
func (ms *Memspace_t) Clone() (*Memspace_t, bool) {
	child, ok := Mkmemspace()
	if !ok {
		return nil, false
	}
	ms.Lock()
	defer ms.Unlock()
	if !ms.clonelevel(ms.root, child.root, 2) {
		child.Free()
		return nil, false
	}
	child.StartBrk = ms.StartBrk
	child.Brk = ms.Brk
	return child, true
}

func (ms *Memspace_t) freelevel(table mem.Pa_t, level int) {
	for i := 0; i < ptesPerPg; i++ {
		pte := ms.rdpte(table, i)
		if pte&PTE_V == 0 {
			continue
		}
		if !pte.isleaf() {
			ms.freelevel(pte.Pa(), level-1)
			ms.phys.Dealloc_page(pte.Pa())
		} else {
			ms.release(pte)
		}
		ms.wrpte(table, i, 0)
	}
}

/// Free releases every owned leaf frame, then the table pages themselves.
func (ms *Memspace_t) Free() {
	ms.Lock()
	defer ms.Unlock()
	ms.freelevel(ms.root, 2)
	ms.phys.Dealloc_page(ms.root)
	ms.root = 0
}

func (ms *Memspace_t) alllevel(table mem.Pa_t, level int, base uintptr,
	f func(va uintptr, pte Pte_t) Pte_t) {
	for i := 0; i < ptesPerPg; i++ {
		pte := ms.rdpte(table, i)
		if pte&PTE_V == 0 {
			continue
		}
		va := base | uintptr(i)<<(12+9*uint(level))
		if !pte.isleaf() {
			ms.alllevel(pte.Pa(), level-1, va, f)
			continue
		}
		if npte := f(va, pte); npte != pte {
			ms.wrpte(table, i, npte)
		}
	}
}

/// All_pages_do calls f on every leaf mapping; a changed return value is
/// written back.
func (ms *Memspace_t) All_pages_do(f func(va uintptr, pte Pte_t) Pte_t) {
	ms.Lock()
	defer ms.Unlock()
	ms.alllevel(ms.root, 2, 0, f)
}
