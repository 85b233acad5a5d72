package link

import (
	"time"

	"github.com/moffa90/go-qbmidi/transport"
)

// SnapshotVersion is the schema version written into snapshots.
const SnapshotVersion = 1

// Snapshot is the persisted projection of a roster. Ports are reduced to
// their ids.
type Snapshot struct {
	Version int            `json:"version"`
	Owner   string         `json:"owner"`
	Links   []SnapshotLink `json:"links"`
}

// SnapshotLink is one link of a Snapshot.
type SnapshotLink struct {
	Input      string    `json:"input"`
	Output     string    `json:"output"`
	Method     Method    `json:"method"`
	UUID       string    `json:"uuid"`
	Bootloader bool      `json:"bootloader"`
	MIDI       bool      `json:"midi"`
	Created    time.Time `json:"created"`
	Updated    time.Time `json:"updated"`
}

// Key returns the port pair of the snapshot link.
func (s SnapshotLink) Key() PairKey {
	return PairKey{Input: s.Input, Output: s.Output}
}

// Snapshot projects the roster for persistence.
func (r *Roster) Snapshot(owner string) Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := Snapshot{
		Version: SnapshotVersion,
		Owner:   owner,
		Links:   make([]SnapshotLink, 0, len(r.links)),
	}
	for _, l := range r.links {
		i := l.Info()
		s.Links = append(s.Links, SnapshotLink{
			Input:      i.Input,
			Output:     i.Output,
			Method:     i.Method,
			UUID:       i.UUID,
			Bootloader: i.Bootloader,
			MIDI:       i.MIDI,
			Created:    i.Created,
			Updated:    i.Updated,
		})
	}
	return s
}

// MergeResult lists the links changed by Merge.
type MergeResult struct {
	Added   []*Link
	Updated []*Link
	Removed []*Link
}

// Changed reports whether the merge touched the roster.
func (m MergeResult) Changed() bool {
	return len(m.Added)+len(m.Updated)+len(m.Removed) > 0
}

// Merge folds a snapshot written by another context into the roster.
// Links missing locally are created when both of their ports are
// currently enumerated, links missing from the snapshot are removed and
// shared links take the snapshot identity when it is newer. Busy links
// are never touched, so the roster is never replaced wholesale.
func (r *Roster) Merge(s Snapshot, inputs, outputs []transport.Port) MergeResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res MergeResult
	seen := make(map[PairKey]bool, len(s.Links))

	for _, sl := range s.Links {
		key := sl.Key()
		seen[key] = true

		if l, ok := r.byKey(key); ok {
			if l.Busy() || !sl.Updated.After(l.Updated()) {
				continue
			}
			l.SetIdentity(sl.UUID, sl.Bootloader, sl.Updated)
			res.Updated = append(res.Updated, l)
			continue
		}

		in, okIn := transport.Find(inputs, sl.Input)
		out, okOut := transport.Find(outputs, sl.Output)
		if !okIn || !okOut {
			continue
		}

		l := New(in, out, sl.Method)
		if !sl.Updated.IsZero() {
			l.SetIdentity(sl.UUID, sl.Bootloader, sl.Updated)
		}
		if r.add(l) {
			res.Added = append(res.Added, l)
		}
	}

	res.Removed = r.removeWhere(func(l *Link) bool {
		return !seen[l.Key()] && !l.Busy()
	})

	return res
}
