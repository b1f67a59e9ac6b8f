package registry

import "math/bits"

// Bitmap is a set of module ids, sized to cover every module slot.
type Bitmap [(MaxModules + 64) / 64]uint64

// Set adds id to the set.
func (b *Bitmap) Set(id int) { b[id/64] |= 1 << (uint(id) % 64) }

// Clear removes id from the set.
func (b *Bitmap) Clear(id int) { b[id/64] &^= 1 << (uint(id) % 64) }

// Test reports whether id is in the set.
func (b *Bitmap) Test(id int) bool {
	if id < 0 || id/64 >= len(b) {
		return false
	}
	return b[id/64]&(1<<(uint(id)%64)) != 0
}

// Empty reports whether no id is set.
func (b *Bitmap) Empty() bool {
	for _, w := range b {
		if w != 0 {
			return false
		}
	}
	return true
}

// Members lists the ids in ascending order.
func (b *Bitmap) Members() []int {
	var out []int
	for i, w := range b {
		for w != 0 {
			bit := bits.TrailingZeros64(w)
			out = append(out, i*64+bit)
			w &^= 1 << uint(bit)
		}
	}
	return out
}
