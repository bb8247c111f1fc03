// File: internal/timer/registry.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Registry keeps per-connection expiry entries in a list sorted ascending by expiry.
// Entries live in a dense arena and link to each other by slot index, so a deleted
// or expired entry can never be reached through a stale pointer: handles carry a
// generation that is bumped whenever a slot is recycled.

package timer

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUnknownHandle is returned for handles whose entry was deleted or expired.
	ErrUnknownHandle = errors.New("timer: unknown handle")

	// ErrExpiryDecreased is returned by Adjust when asked to move an entry earlier.
	ErrExpiryDecreased = errors.New("timer: expiry may only move later")
)

// Callback is invoked once when an entry expires.
type Callback func(data any)

// Handle addresses one live entry. The zero Handle is never valid.
type Handle struct {
	slot int32
	gen  uint32
}

// Valid reports whether h was ever issued by a Registry.
func (h Handle) Valid() bool { return h.gen != 0 }

const nilSlot = -1

type entry struct {
	data   any
	expire time.Time
	cb     Callback
	prev   int32
	next   int32
	gen    uint32
	live   bool
}

// Registry is not safe for concurrent use; the event loop owns it.
type Registry struct {
	entries []entry
	free    []int32
	head    int32
	tail    int32
	n       int
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{head: nilSlot, tail: nilSlot}
}

// Len returns the number of live entries.
func (r *Registry) Len() int { return r.n }

func (r *Registry) alloc() int32 {
	if k := len(r.free); k > 0 {
		slot := r.free[k-1]
		r.free = r.free[:k-1]
		return slot
	}
	r.entries = append(r.entries, entry{})
	return int32(len(r.entries) - 1)
}

func (r *Registry) release(slot int32) {
	e := &r.entries[slot]
	e.data = nil
	e.cb = nil
	e.live = false
	e.prev, e.next = nilSlot, nilSlot
	e.gen++
	if e.gen == 0 {
		e.gen = 1
	}
	r.free = append(r.free, slot)
	r.n--
}

func (r *Registry) lookup(h Handle) (int32, bool) {
	if !h.Valid() || int(h.slot) >= len(r.entries) || h.slot < 0 {
		return 0, false
	}
	e := &r.entries[h.slot]
	if !e.live || e.gen != h.gen {
		return 0, false
	}
	return h.slot, true
}

// Add inserts a new entry and returns its handle.
func (r *Registry) Add(data any, expire time.Time, cb Callback) Handle {
	slot := r.alloc()
	e := &r.entries[slot]
	if e.gen == 0 {
		e.gen = 1
	}
	e.data, e.expire, e.cb, e.live = data, expire, cb, true
	e.prev, e.next = nilSlot, nilSlot
	r.n++

	switch {
	case r.head == nilSlot:
		r.head, r.tail = slot, slot
	case expire.Before(r.entries[r.head].expire):
		e.next = r.head
		r.entries[r.head].prev = slot
		r.head = slot
	case !expire.Before(r.entries[r.tail].expire):
		r.linkAfter(slot, r.tail)
	default:
		r.insertFrom(slot, r.head)
	}
	return Handle{slot: slot, gen: e.gen}
}

// Adjust moves an entry to a later expiry. The search for the new position starts
// at the entry's old successor: nothing before it can expire later than the entry.
func (r *Registry) Adjust(h Handle, expire time.Time) error {
	slot, ok := r.lookup(h)
	if !ok {
		return ErrUnknownHandle
	}
	e := &r.entries[slot]
	if expire.Before(e.expire) {
		return fmt.Errorf("%w: %s before %s", ErrExpiryDecreased, expire, e.expire)
	}
	e.expire = expire

	next := e.next
	if next == nilSlot || expire.Before(r.entries[next].expire) {
		return nil
	}
	r.unlink(slot)
	r.insertFrom(slot, next)
	return nil
}

// Delete removes an entry without invoking its callback.
// It reports false for a handle that is no longer live.
func (r *Registry) Delete(h Handle) bool {
	slot, ok := r.lookup(h)
	if !ok {
		return false
	}
	r.unlink(slot)
	r.release(slot)
	return true
}

// Tick pops every entry with expiry <= now in ascending order and invokes its callback.
// Callbacks may add new entries. It returns the number of expired entries.
func (r *Registry) Tick(now time.Time) int {
	fired := 0
	for r.head != nilSlot && !r.entries[r.head].expire.After(now) {
		slot := r.head
		e := &r.entries[slot]
		data, cb := e.data, e.cb
		r.unlink(slot)
		r.release(slot)
		if cb != nil {
			cb(data)
		}
		fired++
	}
	return fired
}

// NextExpiry returns the earliest expiry, if any.
func (r *Registry) NextExpiry() (time.Time, bool) {
	if r.head == nilSlot {
		return time.Time{}, false
	}
	return r.entries[r.head].expire, true
}

// Expiry returns the expiry currently recorded for h.
func (r *Registry) Expiry(h Handle) (time.Time, bool) {
	slot, ok := r.lookup(h)
	if !ok {
		return time.Time{}, false
	}
	return r.entries[slot].expire, true
}

// insertFrom links slot after the last entry, starting at from, whose expiry is not later than slot's.
// from must already be linked and not be later than slot.
func (r *Registry) insertFrom(slot, from int32) {
	expire := r.entries[slot].expire
	prev := from
	for cur := r.entries[from].next; cur != nilSlot; cur = r.entries[cur].next {
		if expire.Before(r.entries[cur].expire) {
			break
		}
		prev = cur
	}
	r.linkAfter(slot, prev)
}

func (r *Registry) linkAfter(slot, prev int32) {
	e := &r.entries[slot]
	next := r.entries[prev].next
	e.prev, e.next = prev, next
	r.entries[prev].next = slot
	if next == nilSlot {
		r.tail = slot
	} else {
		r.entries[next].prev = slot
	}
}

func (r *Registry) unlink(slot int32) {
	e := &r.entries[slot]
	if e.prev == nilSlot {
		r.head = e.next
	} else {
		r.entries[e.prev].next = e.next
	}
	if e.next == nilSlot {
		r.tail = e.prev
	} else {
		r.entries[e.next].prev = e.prev
	}
	e.prev, e.next = nilSlot, nilSlot
}

// Check walks the list and verifies ordering and links.
func (r *Registry) Check() error {
	count := 0
	prev := int32(nilSlot)
	for cur := r.head; cur != nilSlot; cur = r.entries[cur].next {
		e := &r.entries[cur]
		if !e.live {
			return fmt.Errorf("timer: dead slot %d linked", cur)
		}
		if e.prev != prev {
			return fmt.Errorf("timer: slot %d has prev %d, want %d", cur, e.prev, prev)
		}
		if prev != nilSlot && e.expire.Before(r.entries[prev].expire) {
			return fmt.Errorf("timer: slot %d out of order", cur)
		}
		prev = cur
		count++
		if count > len(r.entries) {
			return errors.New("timer: cycle detected")
		}
	}
	if prev != r.tail {
		return fmt.Errorf("timer: tail is %d, last linked slot is %d", r.tail, prev)
	}
	if count != r.n {
		return fmt.Errorf("timer: %d linked entries, %d counted", count, r.n)
	}
	return nil
}
