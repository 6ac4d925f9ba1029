package mem

import "sync"

const refMinCap = 128

/// Pageref_t counts sharers of physical frames. A frame absent from the
/// table has an implicit reference count of one; present entries store
/// counts of at least two. The zero page is special: it is reported as
/// always shared and never enters the table.
type Pageref_t struct {
	sync.Mutex
	keys  []Pa_t
	vals  []uint64
	count int
}

/// Pagerefs is the global frame reference table.
var Pagerefs *Pageref_t

/// Pageref_init creates the global reference table.
func Pageref_init() *Pageref_t {
	Pagerefs = &Pageref_t{
		keys: make([]Pa_t, refMinCap),
		vals: make([]uint64, refMinCap),
	}
	return Pagerefs
}

func hashpa(pa Pa_t) uint64 {
	h := uint64(pa)
	h ^= h >> 33
	h *= 0xff51afd7ed558ccd
	h ^= h >> 33
	return h
}

func (rt *Pageref_t) rebuild(newcap int) {
	nk := make([]Pa_t, newcap)
	nv := make([]uint64, newcap)
	for i := range rt.keys {
		if rt.vals[i] > 1 {
			idx := int(hashpa(rt.keys[i]) % uint64(newcap))
			for nv[idx] >= 1 {
				idx = (idx + 1) % newcap
			}
			nk[idx] = rt.keys[i]
			nv[idx] = rt.vals[i]
		}
	}
	rt.keys = nk
	rt.vals = nv
}

func (rt *Pageref_t) testForResize() {
	c := len(rt.keys)
	if c < refMinCap {
		rt.rebuild(refMinCap)
	} else if c > refMinCap && rt.count*4 < c {
		rt.rebuild(c / 2)
	} else if rt.count*3 > c*2 {
		rt.rebuild(c * 3 / 2)
	}
}

func (rt *Pageref_t) find(pa Pa_t) int {
	c := len(rt.keys)
	idx := int(hashpa(pa) % uint64(c))
	for rt.keys[idx] != pa && rt.vals[idx] >= 1 {
		idx = (idx + 1) % c
	}
	return idx
}

/// Hasother reports whether the frame is referenced by more than one
/// mapping.
func (rt *Pageref_t) Hasother(pa Pa_t) bool {
	if pa == P_zeropg {
		return true
	}
	rt.Lock()
	defer rt.Unlock()
	if rt.count == 0 {
		return false
	}
	idx := rt.find(pa)
	return rt.keys[idx] == pa && rt.vals[idx] > 1
}

/// Refup records one more reference to the frame. Entries start at two:
/// the mapping that was copied from and the copy.
func (rt *Pageref_t) Refup(pa Pa_t) {
	if pa == P_zeropg {
		return
	}
	rt.Lock()
	defer rt.Unlock()
	rt.testForResize()
	idx := rt.find(pa)
	if rt.keys[idx] == pa && rt.vals[idx] > 1 {
		rt.vals[idx]++
		return
	}
	// entries holding 1 act as tombstones; reuse the first slot whose
	// live value does not collide
	c := len(rt.keys)
	idx = int(hashpa(pa) % uint64(c))
	for rt.keys[idx] != pa && rt.vals[idx] > 1 {
		idx = (idx + 1) % c
	}
	rt.keys[idx] = pa
	rt.vals[idx] = 2
	rt.count++
}

/// Refdown drops one reference. The entry disappears when the count
/// returns to one.
func (rt *Pageref_t) Refdown(pa Pa_t) {
	if pa == P_zeropg {
		return
	}
	rt.Lock()
	defer rt.Unlock()
	if rt.count == 0 {
		return
	}
	idx := rt.find(pa)
	if rt.keys[idx] == pa && rt.vals[idx] > 1 {
		rt.vals[idx]--
		if rt.vals[idx] == 1 {
			rt.count--
			rt.testForResize()
		}
	}
}
