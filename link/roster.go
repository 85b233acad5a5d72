package link

import "sync"

// Roster is the ordered set of known links plus an index by runtime id.
// Every mutation updates both under one lock.
type Roster struct {
	mu    sync.RWMutex
	links []*Link
	index map[uint64]*Link
}

// NewRoster returns an empty roster.
func NewRoster() *Roster {
	return &Roster{index: make(map[uint64]*Link)}
}

// Add appends l. It returns false when l, or a link with the same port
// pair, is already present.
func (r *Roster) Add(l *Link) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.add(l)
}

func (r *Roster) add(l *Link) bool {
	if _, ok := r.index[l.RuntimeID()]; ok {
		return false
	}
	key := l.Key()
	for _, existing := range r.links {
		if existing.Key() == key {
			return false
		}
	}
	r.links = append(r.links, l)
	r.index[l.RuntimeID()] = l
	return true
}

// Remove deletes l. It reports whether l was present.
func (r *Roster) Remove(l *Link) bool {
	removed := r.RemoveWhere(func(candidate *Link) bool { return candidate == l })
	return len(removed) > 0
}

// RemoveWhere deletes every link matching fn and returns them.
func (r *Roster) RemoveWhere(fn func(*Link) bool) []*Link {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeWhere(fn)
}

func (r *Roster) removeWhere(fn func(*Link) bool) []*Link {
	var removed []*Link
	kept := r.links[:0]
	for _, l := range r.links {
		if fn(l) {
			removed = append(removed, l)
			delete(r.index, l.RuntimeID())
			continue
		}
		kept = append(kept, l)
	}
	for i := len(kept); i < len(r.links); i++ {
		r.links[i] = nil
	}
	r.links = kept
	return removed
}

// Contains reports whether l is in the roster.
func (r *Roster) Contains(l *Link) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.index[l.RuntimeID()] == l
}

// Links returns the links in discovery order.
func (r *Roster) Links() []*Link {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Link(nil), r.links...)
}

// Len returns the number of links.
func (r *Roster) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.links)
}

// ByRuntimeID returns the link with the given runtime id.
func (r *Roster) ByRuntimeID(id uint64) (*Link, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.index[id]
	return l, ok
}

// ByUUID returns the first link with the given identity.
func (r *Roster) ByUUID(uuid string) (*Link, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, l := range r.links {
		if l.UUID() == uuid {
			return l, true
		}
	}
	return nil, false
}

// ByKey returns the link using the given port pair.
func (r *Roster) ByKey(key PairKey) (*Link, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byKey(key)
}

func (r *Roster) byKey(key PairKey) (*Link, bool) {
	for _, l := range r.links {
		if l.Key() == key {
			return l, true
		}
	}
	return nil, false
}

// UsedPorts returns the ids of every port referenced by a link.
func (r *Roster) UsedPorts() map[string]bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	used := make(map[string]bool, 2*len(r.links))
	for _, l := range r.links {
		k := l.Key()
		used[k.Input] = true
		used[k.Output] = true
	}
	return used
}
