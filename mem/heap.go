package mem

import "sync"

import "goros/defs"
import "goros/util"

const (
	kallocAlign = 8
	kallocHdr   = 8
	// a free block stores {size, next}, so splits below this are pointless
	minFreeMem     = 16
	minPagesToFree = 8
)

/// Kheap_t is the kernel byte allocator. Blocks live inside the physical
/// arena and carry an 8-byte header holding the block length including the
/// header. Allocation is first-fit; freed blocks coalesce with adjacent
/// free memory and large or perfectly page-aligned free blocks hand their
/// pages back to the page allocator.
type Kheap_t struct {
	sync.Mutex
	phys  *Physmem_t
	first Pa_t // 0 terminates the free list
}

/// Kheap is the global kernel heap, set up during boot.
var Kheap *Kheap_t

/// Kheap_init creates the kernel heap over the given page allocator.
func Kheap_init(phys *Physmem_t) *Kheap_t {
	Kheap = &Kheap_t{phys: phys}
	return Kheap
}

func (kh *Kheap_t) rd64(pa Pa_t) uint64 {
	return uint64(util.Readn(kh.phys.Dmapn(pa, 8), 8, 0))
}

func (kh *Kheap_t) wr64(pa Pa_t, v uint64) {
	util.Writen(kh.phys.Dmapn(pa, 8), 8, 0, int(v))
}

func (kh *Kheap_t) fsize(pa Pa_t) uint64      { return kh.rd64(pa) }
func (kh *Kheap_t) fnext(pa Pa_t) Pa_t        { return Pa_t(kh.rd64(pa + kallocHdr)) }
func (kh *Kheap_t) setsize(pa Pa_t, v uint64) { kh.wr64(pa, v) }
func (kh *Kheap_t) setnext(pa Pa_t, n Pa_t)   { kh.wr64(pa+kallocHdr, uint64(n)) }

// setlink redirects the list link that points at the current block: the
// head pointer when prev is 0, the previous block's next link otherwise.
func (kh *Kheap_t) setlink(prev, val Pa_t) {
	if prev == 0 {
		kh.first = val
	} else {
		kh.setnext(prev, val)
	}
}

// insertFree adds the block [pa, pa+size) to the free list, absorbing any
// adjacent free blocks, and leaves the merged block at the list head.
func (kh *Kheap_t) insertFree(pa Pa_t, size uint64) {
	prev := Pa_t(0)
	cur := kh.first
	for cur != 0 {
		next := kh.fnext(cur)
		csz := kh.fsize(cur)
		if pa+Pa_t(size) == cur {
			size += csz
			kh.setlink(prev, next)
		} else if cur+Pa_t(csz) == pa {
			pa = cur
			size += csz
			kh.setlink(prev, next)
		} else {
			prev = cur
		}
		cur = next
	}
	kh.setsize(pa, size)
	kh.setnext(pa, kh.first)
	kh.first = pa
}

func (kh *Kheap_t) addNewMemory(size uint64) {
	npages := int(util.Roundup(size, uint64(PGSIZE)) >> PGSHIFT)
	pa, ok := kh.phys.Alloc_pages(npages)
	if !ok {
		return
	}
	kh.insertFree(pa, uint64(npages*PGSIZE))
}

// findFit unlinks and returns a block of at least length bytes, splitting
// the tail off when it is big enough to stand alone. Returns the block
// address and its final size.
func (kh *Kheap_t) findFit(length uint64) (Pa_t, uint64, bool) {
	prev := Pa_t(0)
	cur := kh.first
	for cur != 0 {
		csz := kh.fsize(cur)
		if csz >= length {
			if csz < length+minFreeMem {
				kh.setlink(prev, kh.fnext(cur))
				return cur, csz, true
			}
			tail := cur + Pa_t(length)
			kh.setsize(tail, csz-length)
			kh.setnext(tail, kh.fnext(cur))
			kh.setlink(prev, tail)
			return cur, length, true
		}
		prev = cur
		cur = kh.fnext(cur)
	}
	return 0, 0, false
}

// tryFreeingOldMemory hands whole pages inside large or perfectly aligned
// free blocks back to the page allocator.
func (kh *Kheap_t) tryFreeingOldMemory() {
	prev := Pa_t(0)
	cur := kh.first
	for cur != 0 {
		next := kh.fnext(cur)
		ms := cur
		me := cur + Pa_t(kh.fsize(cur))
		var ps, pe Pa_t
		if ms&PGOFFSET == 0 {
			ps = ms
		} else {
			ps = (ms + minFreeMem + PGOFFSET) & PGMASK
		}
		if me&PGOFFSET == 0 {
			pe = me
		} else {
			pe = (me - minFreeMem) & PGMASK
		}
		if pe > ps &&
			((ms == ps && me == pe) || pe >= ps+Pa_t(minPagesToFree*PGSIZE)) {
			switch {
			case ps == ms && pe == me:
				kh.setlink(prev, next)
			case me == pe:
				kh.setsize(cur, uint64(ps-ms))
				prev = cur
			case ms == ps:
				nb := pe
				kh.setsize(nb, uint64(me-pe))
				kh.setnext(nb, next)
				kh.setlink(prev, nb)
				prev = nb
			default:
				kh.setsize(cur, uint64(ps-ms))
				nb := pe
				kh.setsize(nb, uint64(me-pe))
				kh.setnext(nb, next)
				kh.setnext(cur, nb)
				prev = nb
			}
			kh.phys.Dealloc_pages(ps, int(pe-ps)>>PGSHIFT)
		} else {
			prev = cur
		}
		cur = next
	}
}

/// Kalloc allocates size bytes and returns the payload address. The
/// payload can be addressed through Buf.
func (kh *Kheap_t) Kalloc(size int) (Pa_t, defs.Err_t) {
	if size <= 0 {
		return 0, -defs.EINVAL
	}
	length := util.Roundup(uint64(size)+kallocHdr, kallocAlign)
	kh.Lock()
	defer kh.Unlock()
	blk, got, ok := kh.findFit(length)
	if !ok {
		kh.addNewMemory(length)
		blk, got, ok = kh.findFit(length)
	}
	if !ok {
		return 0, -defs.ENOMEM
	}
	kh.setsize(blk, got)
	return blk + kallocHdr, 0
}

/// Kzalloc allocates size zeroed bytes.
func (kh *Kheap_t) Kzalloc(size int) (Pa_t, defs.Err_t) {
	pa, err := kh.Kalloc(size)
	if err != 0 {
		return 0, err
	}
	clear(kh.Buf(pa))
	return pa, 0
}

/// Kfree returns the block whose payload starts at pa to the heap.
func (kh *Kheap_t) Kfree(pa Pa_t) {
	if pa == 0 {
		return
	}
	blk := pa - kallocHdr
	kh.Lock()
	defer kh.Unlock()
	kh.insertFree(blk, kh.fsize(blk))
	kh.tryFreeingOldMemory()
}

/// Ksize returns the usable payload size of the allocation at pa.
func (kh *Kheap_t) Ksize(pa Pa_t) int {
	if pa == 0 {
		return 0
	}
	return int(kh.fsize(pa-kallocHdr)) - kallocHdr
}

/// Buf returns the payload of the allocation at pa as a byte slice.
func (kh *Kheap_t) Buf(pa Pa_t) []uint8 {
	return kh.phys.Dmapn(pa, kh.Ksize(pa))
}

/// Krealloc grows or shrinks the allocation at pa, extending in place
/// when the block that follows it is free and large enough, and falling
/// back to allocate-copy-free otherwise.
func (kh *Kheap_t) Krealloc(pa Pa_t, size int) (Pa_t, defs.Err_t) {
	if size <= 0 {
		kh.Kfree(pa)
		return 0, 0
	}
	if pa == 0 {
		return kh.Kalloc(size)
	}
	blk := pa - kallocHdr
	length := util.Roundup(uint64(size)+kallocHdr, kallocAlign)
	kh.Lock()
	cur := kh.fsize(blk)
	if cur >= length {
		kh.Unlock()
		return pa, 0
	}
	// look for a free block starting exactly at our end
	prev := Pa_t(0)
	fb := kh.first
	for fb != 0 {
		if blk+Pa_t(cur) == fb {
			break
		}
		prev = fb
		fb = kh.fnext(fb)
	}
	if fb != 0 && cur+kh.fsize(fb) >= length {
		total := cur + kh.fsize(fb)
		kh.setlink(prev, kh.fnext(fb))
		if total < length+minFreeMem {
			kh.setsize(blk, total)
		} else {
			tail := blk + Pa_t(length)
			kh.setsize(blk, length)
			kh.insertFree(tail, total-length)
		}
		kh.Unlock()
		return pa, 0
	}
	kh.Unlock()
	npa, err := kh.Kalloc(size)
	if err != 0 {
		return 0, err
	}
	copy(kh.Buf(npa), kh.Buf(pa))
	kh.Kfree(pa)
	return npa, 0
}
