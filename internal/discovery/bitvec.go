package discovery

import (
	"errors"
	"fmt"

	"github.com/bits-and-blooms/bitset"
)

// ErrStoreSealed is returned when events are added after Seal.
var ErrStoreSealed = errors.New("bit vector store is sealed")

// LabelStats counts binarization outcomes across a batch.
type LabelStats struct {
	Ones           int `json:"ones"`
	Zeros          int `json:"zeros"`
	Unknowns       int `json:"unknowns"`
	Missing        int `json:"missing"`
	TypeMismatches int `json:"type_mismatches"`
}

// Store holds, per signal, the ONE-set and UNKNOWN-set of a batch as
// fixed-length bitsets indexed by event position. All bitsets are sized
// up front; Add never grows them.
//
// Invariant: ones[i] AND unknown[i] is empty for every signal.
type Store struct {
	n         uint
	signals   []string
	index     map[string]int
	binarizer *Binarizer
	ones      []*bitset.BitSet
	unknown   []*bitset.BitSet
	known     []*bitset.BitSet
	sealed    bool
	stats     LabelStats
}

// NewStore allocates a store for n events over the binarizer's signals.
func NewStore(b *Binarizer, n int) *Store {
	if n < 0 {
		n = 0
	}
	signals := b.Signals()
	s := &Store{
		n:         uint(n),
		signals:   signals,
		index:     make(map[string]int, len(signals)),
		binarizer: b,
		ones:      make([]*bitset.BitSet, len(signals)),
		unknown:   make([]*bitset.BitSet, len(signals)),
	}
	for i, name := range signals {
		s.index[name] = i
		s.ones[i] = bitset.New(uint(n))
		s.unknown[i] = bitset.New(uint(n))
	}
	return s
}

// BuildStore binarizes events into a sealed store.
func BuildStore(b *Binarizer, events []Event) (*Store, error) {
	s := NewStore(b, len(events))
	for i, ev := range events {
		if err := s.Add(i, ev); err != nil {
			return nil, err
		}
	}
	s.Seal()
	return s, nil
}

// Add binarizes every configured signal of ev into position idx.
func (s *Store) Add(idx int, ev Event) error {
	if s.sealed {
		return ErrStoreSealed
	}
	if idx < 0 || uint(idx) >= s.n {
		return fmt.Errorf("event index %d out of range [0, %d)", idx, s.n)
	}
	pos := uint(idx)
	for i, name := range s.signals {
		v := ev.Value(name)
		label, mismatch := binarize(s.binarizer.thresholds[name], v)
		if mismatch {
			s.stats.TypeMismatches++
		}
		if v.Kind() == KindMissing {
			s.stats.Missing++
		}
		switch label {
		case LabelOne:
			s.ones[i].Set(pos)
			s.stats.Ones++
		case LabelUnknown:
			s.unknown[i].Set(pos)
			s.stats.Unknowns++
		default:
			s.stats.Zeros++
		}
	}
	return nil
}

// Seal ends ingestion and derives the known masks. After Seal the store is
// read-only and safe for concurrent readers.
func (s *Store) Seal() {
	if s.sealed {
		return
	}
	s.known = make([]*bitset.BitSet, len(s.signals))
	for i := range s.signals {
		s.known[i] = s.unknown[i].Complement()
	}
	s.sealed = true
}

// Len is the batch size N.
func (s *Store) Len() int { return int(s.n) }

// Signals returns the signal names in index order.
func (s *Store) Signals() []string { return s.signals }

// Index returns the position of a signal.
func (s *Store) Index(signal string) (int, bool) {
	i, ok := s.index[signal]
	return i, ok
}

// Ones returns the ONE-set of signal i.
func (s *Store) Ones(i int) *bitset.BitSet { return s.ones[i] }

// Unknown returns the UNKNOWN-set of signal i.
func (s *Store) Unknown(i int) *bitset.BitSet { return s.unknown[i] }

// KnownMask returns the complement of the UNKNOWN-set of signal i, limited
// to the batch length.
func (s *Store) KnownMask(i int) *bitset.BitSet {
	if s.known != nil {
		return s.known[i]
	}
	return s.unknown[i].Complement()
}

// Stats returns the binarization counters collected by Add.
func (s *Store) Stats() LabelStats { return s.stats }

// PopcountAndNot counts bits set in a and not in b.
func PopcountAndNot(a, b *bitset.BitSet) uint64 {
	return uint64(a.DifferenceCardinality(b))
}

// PopcountAnd counts bits set in both a and b.
func PopcountAnd(a, b *bitset.BitSet) uint64 {
	return uint64(a.IntersectionCardinality(b))
}
