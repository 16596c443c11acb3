package lbcore

import (
	"github.com/holiman/uint256"
)

const (
	// MaxBinID is the largest bin id the tree can hold.
	MaxBinID = 1<<24 - 1

	// NoRight is returned by FindFirstRight when no smaller id is occupied.
	NoRight = MaxBinID

	// NoLeft is returned by FindFirstLeft when no larger id is occupied.
	NoLeft = 0
)

// Tree tracks which of the 2^24 bin ids are occupied. An id is split into a
// top byte, a middle byte and a low byte. level2 has one word per (top,
// middle) prefix with a bit per low byte, level1 has one word per top byte
// with a bit per middle byte, and level0 has a bit per top byte.
//
// A level1 bit is set iff its level2 word is nonzero, and a level0 bit is set
// iff its level1 word is nonzero. Zero words are never stored, so a missing
// key reads as an empty word.
type Tree struct {
	level0 uint256.Int
	level1 map[uint8]uint256.Int
	level2 map[uint16]uint256.Int
	len    int
}

// NewTree returns an empty tree.
func NewTree() *Tree {
	return &Tree{
		level1: make(map[uint8]uint256.Int),
		level2: make(map[uint16]uint256.Int),
	}
}

func (t *Tree) Len() int    { return t.len }
func (t *Tree) Empty() bool { return t.len == 0 }

func split(id uint32) (key1 uint8, key2 uint16, bit uint8) {
	return uint8(id >> 16), uint16(id >> 8), uint8(id)
}

func (t *Tree) word1(key uint8) uint256.Int  { return t.level1[key] }
func (t *Tree) word2(key uint16) uint256.Int { return t.level2[key] }

func (t *Tree) setWord1(key uint8, w *uint256.Int) {
	if w.IsZero() {
		delete(t.level1, key)
	} else {
		t.level1[key] = *w
	}
}

func (t *Tree) setWord2(key uint16, w *uint256.Int) {
	if w.IsZero() {
		delete(t.level2, key)
	} else {
		t.level2[key] = *w
	}
}

// Contains reports if id is occupied.
func (t *Tree) Contains(id uint32) bool {
	if id > MaxBinID {
		return false
	}
	_, key2, bit := split(id)
	leaves := t.word2(key2)
	return hasBit(&leaves, bit)
}

// Add marks id as occupied. It returns true if id was not occupied before.
func (t *Tree) Add(id uint32) bool {
	if id > MaxBinID {
		return false
	}
	key1, key2, bit := split(id)

	leaves := t.word2(key2)
	if hasBit(&leaves, bit) {
		return false
	}
	wasEmpty := leaves.IsZero()
	b := bitWord(bit)
	leaves.Or(&leaves, &b)
	t.setWord2(key2, &leaves)
	t.len++

	if !wasEmpty {
		return true
	}

	// the level2 word went from empty to nonempty: propagate upward.
	mids := t.word1(key1)
	wasEmpty = mids.IsZero()
	b = bitWord(uint8(key2))
	mids.Or(&mids, &b)
	t.setWord1(key1, &mids)

	if wasEmpty {
		b = bitWord(key1)
		t.level0.Or(&t.level0, &b)
	}
	return true
}

// Remove clears id. It returns true if id was occupied before.
func (t *Tree) Remove(id uint32) bool {
	if id > MaxBinID {
		return false
	}
	key1, key2, bit := split(id)

	leaves := t.word2(key2)
	if !hasBit(&leaves, bit) {
		return false
	}
	b := bitWord(bit)
	b.Not(&b)
	leaves.And(&leaves, &b)
	t.setWord2(key2, &leaves)
	t.len--

	if !leaves.IsZero() {
		return true
	}

	// the level2 word became empty: clear its bit in level1, and in level0
	// if that empties the level1 word too.
	mids := t.word1(key1)
	b = bitWord(uint8(key2))
	b.Not(&b)
	mids.And(&mids, &b)
	t.setWord1(key1, &mids)

	if mids.IsZero() {
		b = bitWord(key1)
		b.Not(&b)
		t.level0.And(&t.level0, &b)
	}
	return true
}

// closestBitRight finds the highest set bit strictly below bit. bit must be
// nonzero.
func closestBitRight(x *uint256.Int, bit uint8) (uint8, bool) {
	return ClosestBitRight(x, bit-1)
}

// closestBitLeft finds the lowest set bit strictly above bit. bit must not be
// 255.
func closestBitLeft(x *uint256.Int, bit uint8) (uint8, bool) {
	return ClosestBitLeft(x, bit+1)
}

// FindFirstRight returns the largest occupied id strictly less than id, or
// NoRight if there is none. id itself is never returned even when occupied.
// Queries above MaxBinID return MaxBinID when it is occupied and otherwise
// search below MaxBinID.
func (t *Tree) FindFirstRight(id uint32) uint32 {
	if id > MaxBinID {
		if t.Contains(MaxBinID) {
			return MaxBinID
		}
		id = MaxBinID
	}
	key1, key2, bit := split(id)

	// same level2 word, below the low byte.
	if bit != 0 {
		leaves := t.word2(key2)
		if b, ok := closestBitRight(&leaves, bit); ok {
			return uint32(key2)<<8 | uint32(b)
		}
	}

	// same level1 word, below the middle byte: descend taking highest bits.
	if mid := uint8(key2); mid != 0 {
		mids := t.word1(key1)
		if b, ok := closestBitRight(&mids, mid); ok {
			k2 := uint16(key1)<<8 | uint16(b)
			leaves := t.word2(k2)
			return uint32(k2)<<8 | uint32(MostSignificantBit(&leaves))
		}
	}

	// level0, below the top byte.
	if key1 != 0 {
		if b, ok := closestBitRight(&t.level0, key1); ok {
			mids := t.word1(b)
			k2 := uint16(b)<<8 | uint16(MostSignificantBit(&mids))
			leaves := t.word2(k2)
			return uint32(k2)<<8 | uint32(MostSignificantBit(&leaves))
		}
	}

	return NoRight
}

// FindFirstLeft returns the smallest occupied id strictly greater than id, or
// NoLeft if there is none. id itself is never returned even when occupied.
// Queries above MaxBinID always return NoLeft.
func (t *Tree) FindFirstLeft(id uint32) uint32 {
	if id > MaxBinID {
		return NoLeft
	}
	key1, key2, bit := split(id)

	if bit != 255 {
		leaves := t.word2(key2)
		if b, ok := closestBitLeft(&leaves, bit); ok {
			return uint32(key2)<<8 | uint32(b)
		}
	}

	if mid := uint8(key2); mid != 255 {
		mids := t.word1(key1)
		if b, ok := closestBitLeft(&mids, mid); ok {
			k2 := uint16(key1)<<8 | uint16(b)
			leaves := t.word2(k2)
			return uint32(k2)<<8 | uint32(LeastSignificantBit(&leaves))
		}
	}

	if key1 != 255 {
		if b, ok := closestBitLeft(&t.level0, key1); ok {
			mids := t.word1(b)
			k2 := uint16(b)<<8 | uint16(LeastSignificantBit(&mids))
			leaves := t.word2(k2)
			return uint32(k2)<<8 | uint32(LeastSignificantBit(&leaves))
		}
	}

	return NoLeft
}

// Verify checks that the levels agree with each other and with Len. It never
// modifies the tree.
func (t *Tree) Verify() error {
	count := 0
	for key2, leaves := range t.level2 {
		if leaves.IsZero() {
			return InvariantError.New("level2 word %#04x stored as zero", key2)
		}
		mids := t.word1(uint8(key2 >> 8))
		if !hasBit(&mids, uint8(key2)) {
			return InvariantError.New("level2 word %#04x has no level1 bit", key2)
		}
		count += onesCount(&leaves)
	}

	for key1, mids := range t.level1 {
		if mids.IsZero() {
			return InvariantError.New("level1 word %#02x stored as zero", key1)
		}
		if !hasBit(&t.level0, key1) {
			return InvariantError.New("level1 word %#02x has no level0 bit", key1)
		}
		for w := mids; !w.IsZero(); {
			b := LeastSignificantBit(&w)
			if _, ok := t.level2[uint16(key1)<<8|uint16(b)]; !ok {
				return InvariantError.New("level1 word %#02x bit %d has empty level2 word", key1, b)
			}
			clearBit(&w, b)
		}
	}

	for w := t.level0; !w.IsZero(); {
		b := LeastSignificantBit(&w)
		if _, ok := t.level1[b]; !ok {
			return InvariantError.New("level0 bit %d has empty level1 word", b)
		}
		clearBit(&w, b)
	}

	if count != t.len {
		return InvariantError.New("length %d but %d ids occupied", t.len, count)
	}
	return nil
}

//
// iterator
//

// TreeIter walks the occupied ids in ascending order.
type TreeIter struct {
	t       *Tree
	id      uint32
	started bool
	done    bool
}

// Iter returns an iterator positioned before the smallest occupied id. The
// tree must not be modified while iterating.
func (t *Tree) Iter() TreeIter { return TreeIter{t: t} }

// Next advances to the next occupied id and reports if there was one.
func (it *TreeIter) Next() bool {
	if it.done {
		return false
	}
	if !it.started {
		it.started = true
		if it.t.Contains(0) {
			it.id = 0
			return true
		}
	}

	// any hit is strictly greater than the current id, so a result of 0 can
	// only be the sentinel.
	next := it.t.FindFirstLeft(it.id)
	if next == NoLeft {
		it.done = true
		return false
	}
	it.id = next
	return true
}

// ID returns the id the iterator is positioned at.
func (it *TreeIter) ID() uint32 { return it.id }
