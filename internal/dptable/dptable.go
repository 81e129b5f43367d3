// Package dptable holds the most recent published point for every
// distinguished state key and reports matches on insert.
package dptable

import (
	"github.com/roach88/collate/internal/digest"
	"github.com/roach88/collate/internal/ledger"
)

type slot struct {
	handle ledger.Handle
	state  digest.State
}

// Table maps a state key to the most recent point whose digest has that key.
//
// The key is the digest trimmed to TableBits. A smaller key width than the
// search width makes the table coarser but never produces false matches:
// Insert confirms every candidate at the full search width.
//
// Thread-safety: Table is not safe for concurrent use. Callers hold the
// search mutex across ledger ingest and Insert.
type Table struct {
	bits      uint
	tableBits uint
	slots     map[digest.State]slot
}

// New creates a table matching at bits, keyed on the first tableBits bits.
// A zero or oversized tableBits keys on the full search width.
func New(bits, tableBits uint) *Table {
	if tableBits == 0 || tableBits > bits {
		tableBits = bits
	}
	return &Table{
		bits:      bits,
		tableBits: tableBits,
		slots:     make(map[digest.State]slot),
	}
}

// Insert stores h under the key of s and reports the previous occupant if its
// digest agrees with s on the search width. The slot is replaced either way,
// so a table only ever names the latest point per key.
func (t *Table) Insert(h ledger.Handle, s digest.State) (ledger.Handle, bool) {
	key := digest.Trim(s, t.tableBits)
	old, ok := t.slots[key]
	t.slots[key] = slot{handle: h, state: s}
	if ok && digest.MaskEqual(old.state, s, t.bits) {
		return old.handle, true
	}
	return ledger.NoHandle, false
}

// Lookup returns the point currently stored for the key of s.
func (t *Table) Lookup(s digest.State) (ledger.Handle, bool) {
	old, ok := t.slots[digest.Trim(s, t.tableBits)]
	if !ok || !digest.MaskEqual(old.state, s, t.bits) {
		return ledger.NoHandle, false
	}
	return old.handle, true
}

// Len returns the number of occupied slots.
func (t *Table) Len() int {
	return len(t.slots)
}

// Bits returns the search width.
func (t *Table) Bits() uint {
	return t.bits
}
