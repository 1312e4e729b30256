package ranking

import (
	"time"

	"github.com/okian/beerduel/internal/domain/model"
	"github.com/okian/beerduel/internal/domain/types"
)

// Snapshot is an immutable ordered view of the active population.
// Readers hold a pointer to one complete snapshot; it is never mutated after
// publication.
type Snapshot struct {
	entries []types.Entry // rating desc, id asc
	index   map[string]int
	builtAt time.Time
	version uint64
}

func newSnapshot(scored []model.Scored, version uint64) *Snapshot {
	entries := make([]types.Entry, len(scored))
	index := make(map[string]int, len(scored))
	for i, sc := range scored {
		entries[i] = types.Entry{ItemID: sc.ItemID, Rating: sc.Rating}
		index[sc.ItemID] = i
	}
	assignRanksWithTies(entries)
	return &Snapshot{entries: entries, index: index, builtAt: time.Now(), version: version}
}

// assignRanksWithTies gives equal ratings the same rank; ranks are dense.
func assignRanksWithTies(entries []types.Entry) {
	rank := 0
	for i := range entries {
		if i == 0 || entries[i].Rating != entries[i-1].Rating {
			rank++
		}
		entries[i].Rank = rank
	}
}

// Len returns the population size.
func (s *Snapshot) Len() int { return len(s.entries) }

// BuiltAt returns when the snapshot was built.
func (s *Snapshot) BuiltAt() time.Time { return s.builtAt }

// Version increases by one with every published snapshot.
func (s *Snapshot) Version() uint64 { return s.version }

// Entries returns a copy of the ordered entries.
func (s *Snapshot) Entries() []types.Entry {
	return append([]types.Entry(nil), s.entries...)
}

// Scored returns the population in ranking order, the input shape of the
// rarity classifier.
func (s *Snapshot) Scored() []model.Scored {
	out := make([]model.Scored, len(s.entries))
	for i, e := range s.entries {
		out[i] = model.Scored{ItemID: e.ItemID, Rating: e.Rating}
	}
	return out
}

// TopN returns up to n leading entries.
func (s *Snapshot) TopN(n int) ([]types.Entry, error) {
	if n < 1 {
		return nil, ErrInvalidLimit
	}
	n = min(n, len(s.entries))
	return append([]types.Entry(nil), s.entries[:n]...), nil
}

// Rank returns the entry for itemID.
func (s *Snapshot) Rank(itemID string) (types.Entry, error) {
	i, ok := s.index[itemID]
	if !ok {
		return types.Entry{}, ErrNotRanked
	}
	return s.entries[i], nil
}
