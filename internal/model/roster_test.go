package model

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoster_AddIsExclusive(t *testing.T) {
	r := NewRoster()
	id := uuid.New()

	require.NoError(t, r.Add(id, RosterApplied))

	err := r.Add(id, RosterRejected)
	assert.ErrorIs(t, err, ErrRosterMember)

	set, ok := r.Lookup(id)
	require.True(t, ok)
	assert.Equal(t, RosterApplied, set)
	assert.Equal(t, 0, r.Count(RosterRejected))
}

func TestRoster_Move(t *testing.T) {
	r := NewRoster()
	a, b := uuid.New(), uuid.New()
	require.NoError(t, r.Add(a, RosterApplied))
	require.NoError(t, r.Add(b, RosterApplied))

	require.NoError(t, r.Move(a, RosterApplied, RosterSelected))

	assert.Equal(t, []uuid.UUID{b}, r.Applied)
	assert.Equal(t, []uuid.UUID{a}, r.Selected)

	err := r.Move(a, RosterApplied, RosterRejected)
	assert.ErrorIs(t, err, ErrRosterAbsent)
	assert.Equal(t, []uuid.UUID{a}, r.Selected, "failed move must not touch the roster")
	assert.Empty(t, r.Rejected)
}

func TestRoster_NoTesterInTwoSets(t *testing.T) {
	r := NewRoster()
	ids := make([]uuid.UUID, 6)
	for i := range ids {
		ids[i] = uuid.New()
		require.NoError(t, r.Add(ids[i], RosterApplied))
	}
	for i, id := range ids {
		to := RosterSelected
		if i%2 == 0 {
			to = RosterRejected
		}
		require.NoError(t, r.Move(id, RosterApplied, to))
	}

	seen := map[uuid.UUID]int{}
	for _, set := range [][]uuid.UUID{r.Applied, r.Selected, r.Rejected} {
		for _, id := range set {
			seen[id]++
		}
	}
	for id, n := range seen {
		assert.Equalf(t, 1, n, "tester %s in %d sets", id, n)
	}
}

func TestRoster_CloneIsIndependent(t *testing.T) {
	r := NewRoster()
	id := uuid.New()
	require.NoError(t, r.Add(id, RosterApplied))

	c := r.Clone()
	require.NoError(t, c.Move(id, RosterApplied, RosterSelected))

	assert.Equal(t, 1, r.Count(RosterApplied))
	assert.Equal(t, 0, r.Count(RosterSelected))
}

func TestStatusAt(t *testing.T) {
	post := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	end := post.Add(48 * time.Hour)

	tests := []struct {
		name string
		now  time.Time
		want TaskStatus
	}{
		{name: "before window", now: post.Add(-time.Minute), want: TaskPending},
		{name: "at post date", now: post, want: TaskOpen},
		{name: "inside window", now: post.Add(time.Hour), want: TaskOpen},
		{name: "at end date", now: end, want: TaskClosed},
		{name: "after window", now: end.Add(time.Hour), want: TaskClosed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StatusAt(post, end, tt.now))
		})
	}
}

func TestTask_AdvanceNeverReverses(t *testing.T) {
	task := &Task{Status: TaskPending}

	assert.True(t, task.Advance(TaskOpen))
	assert.True(t, task.Advance(TaskClosed))
	assert.False(t, task.Advance(TaskOpen))
	assert.False(t, task.Advance(TaskPending))
	assert.Equal(t, TaskClosed, task.Status)
}

func TestAudience_Admits(t *testing.T) {
	tester := &Tester{Age: 25, Gender: GenderFemale, Country: "DE"}

	tests := []struct {
		name     string
		audience Audience
		want     bool
	}{
		{name: "open audience", audience: Audience{Gender: GenderAny}, want: true},
		{name: "too young", audience: Audience{MinAge: 30}, want: false},
		{name: "gender mismatch", audience: Audience{Gender: GenderMale}, want: false},
		{name: "country match ignores case", audience: Audience{Country: "de"}, want: true},
		{name: "country mismatch", audience: Audience{Country: "FR"}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.audience.Admits(tester))
		})
	}
}
