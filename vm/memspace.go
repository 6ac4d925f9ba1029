package vm

import "goros/defs"
import "goros/mem"
import "goros/util"

/// Sbrk moves the heap break by change bytes and returns the old break.
/// New pages map the zero page copy-on-write; released pages are unmapped
/// and freed. The break never moves below StartBrk.
func (ms *Memspace_t) Sbrk(change int) uintptr {
	ms.Lock()
	defer ms.Unlock()
	old := ms.Brk
	end := uintptr(int(old) + change)
	if change < 0 && -change > int(old) {
		end = 0
	}
	if end < ms.StartBrk {
		end = ms.StartBrk
	}
	pstart := util.Roundup(old, uintptr(mem.PGSIZE))
	pend := util.Roundup(end, uintptr(mem.PGSIZE))
	if pend > pstart {
		for va := pstart; va < pend; va += uintptr(mem.PGSIZE) {
			ms.store(va, Mkpte(mem.P_zeropg,
				PTE_V|PTE_U|PTE_R|PTE_A|PTE_D|PTE_COPY|PTE_OWNED))
		}
	} else if pend < pstart {
		for va := pend; va < pstart; va += uintptr(mem.PGSIZE) {
			table, idx, ok := ms.walk(va, false)
			if !ok {
				continue
			}
			pte := ms.rdpte(table, idx)
			if pte&PTE_V != 0 {
				ms.release(pte)
				ms.wrpte(table, idx, 0)
			}
		}
	}
	ms.Brk = end
	return old
}

/// Protect changes the access permissions of every user page overlapping
/// [addr, addr+length). A writable page that is currently copy-on-write
/// stays read-only until the next write fault.
func (ms *Memspace_t) Protect(addr, length uintptr, prot int) defs.Err_t {
	if prot&(defs.PROT_READ|defs.PROT_WRITE|defs.PROT_EXEC) == 0 {
		return -defs.EINVAL
	}
	if length == 0 {
		return 0
	}
	start := addr &^ uintptr(mem.PGOFFSET)
	end := util.Roundup(addr+length, uintptr(mem.PGSIZE))
	ms.All_pages_do(func(va uintptr, pte Pte_t) Pte_t {
		if va < start || va >= end || pte&PTE_U == 0 {
			return pte
		}
		flags := pteflags(pte) &^ PTE_RWX
		if prot&defs.PROT_READ != 0 {
			flags |= PTE_R
		}
		if prot&defs.PROT_WRITE != 0 {
			flags |= PTE_W
		}
		if prot&defs.PROT_EXEC != 0 {
			flags |= PTE_X
		}
		if flags&PTE_COPY != 0 {
			flags &^= PTE_W
		}
		return Mkpte(pte.Pa(), flags)
	})
	return 0
}
