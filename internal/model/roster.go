package model

import (
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"
)

// RosterSet — одно из трёх множеств состава исполнителей.
type RosterSet string

const (
	RosterApplied  RosterSet = "applied"
	RosterSelected RosterSet = "selected"
	RosterRejected RosterSet = "rejected"
)

var (
	// ErrRosterMember возвращается при попытке повторно добавить тестировщика.
	ErrRosterMember = errors.New("tester already in roster")
	// ErrRosterAbsent возвращается, если тестировщика нет в исходном множестве.
	ErrRosterAbsent = errors.New("tester not in roster set")
)

// Roster разбивает тестировщиков задания на непересекающиеся множества
// applied, selected и rejected. Изменять состав следует только через Add и Move.
type Roster struct {
	Applied  []uuid.UUID `json:"applied"`
	Selected []uuid.UUID `json:"selected"`
	Rejected []uuid.UUID `json:"rejected"`
}

// NewRoster создаёт пустой состав.
func NewRoster() *Roster {
	return &Roster{
		Applied:  []uuid.UUID{},
		Selected: []uuid.UUID{},
		Rejected: []uuid.UUID{},
	}
}

func (r *Roster) members(s RosterSet) *[]uuid.UUID {
	switch s {
	case RosterApplied:
		return &r.Applied
	case RosterSelected:
		return &r.Selected
	case RosterRejected:
		return &r.Rejected
	}
	return nil
}

// Lookup возвращает множество, в котором состоит тестировщик.
func (r *Roster) Lookup(id uuid.UUID) (RosterSet, bool) {
	for _, s := range []RosterSet{RosterApplied, RosterSelected, RosterRejected} {
		if slices.Contains(*r.members(s), id) {
			return s, true
		}
	}
	return "", false
}

// Add добавляет тестировщика в множество, если его нет ни в одном из множеств.
func (r *Roster) Add(id uuid.UUID, s RosterSet) error {
	dst := r.members(s)
	if dst == nil {
		return fmt.Errorf("unknown roster set %q", s)
	}
	if cur, ok := r.Lookup(id); ok {
		return fmt.Errorf("%w: %s", ErrRosterMember, cur)
	}
	*dst = append(*dst, id)
	return nil
}

// Move переносит тестировщика из одного множества в другое одной операцией.
func (r *Roster) Move(id uuid.UUID, from, to RosterSet) error {
	src, dst := r.members(from), r.members(to)
	if src == nil || dst == nil {
		return fmt.Errorf("unknown roster set %q -> %q", from, to)
	}
	idx := slices.Index(*src, id)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrRosterAbsent, from)
	}
	if from == to {
		return nil
	}

	nextSrc := slices.Delete(slices.Clone(*src), idx, idx+1)
	nextDst := append(slices.Clone(*dst), id)
	*src, *dst = nextSrc, nextDst
	return nil
}

// Count возвращает размер множества.
func (r *Roster) Count(s RosterSet) int {
	if m := r.members(s); m != nil {
		return len(*m)
	}
	return 0
}

// Clone возвращает глубокую копию.
func (r *Roster) Clone() *Roster {
	return &Roster{
		Applied:  slices.Clone(r.Applied),
		Selected: slices.Clone(r.Selected),
		Rejected: slices.Clone(r.Rejected),
	}
}
