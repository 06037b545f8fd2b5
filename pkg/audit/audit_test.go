package audit

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditLogger_Ring(t *testing.T) {
	l := NewAuditLogger(3)
	for i := 0; i < 5; i++ {
		require.NoError(t, l.Log(NewEvent(ActionCommit, ResourceSnapshot, fmt.Sprintf("h%d", i), StatusSuccess)))
	}

	assert.Equal(t, int64(5), l.GetEventCount())

	all := l.GetEvents(nil)
	require.Len(t, all, 3)
	assert.Equal(t, "h2", all[0].ResourceID)
	assert.Equal(t, "h4", all[2].ResourceID)

	recent := l.GetRecentEvents(10)
	require.Len(t, recent, 3)
	assert.Equal(t, "h4", recent[0].ResourceID)

	assert.Error(t, l.Log(nil))
}

func TestAuditLogger_FillsDefaults(t *testing.T) {
	l := NewAuditLogger(0)
	e := &Event{Action: ActionDelete, ResourceType: ResourceSnapshot, Status: StatusSuccess}
	require.NoError(t, l.Log(e))
	assert.NotEmpty(t, e.ID)
	assert.False(t, e.Timestamp.IsZero())
}

func TestFilter_Matches(t *testing.T) {
	now := time.Now().UTC()
	e := &Event{
		Timestamp: now, Subject: "ana", Action: ActionRollback,
		ResourceType: ResourceSnapshot, ResourceID: "sha256:ab", Status: StatusFailure,
	}
	before, after := now.Add(-time.Minute), now.Add(time.Minute)

	tests := []struct {
		name   string
		filter *Filter
		want   bool
	}{
		{"nil", nil, true},
		{"empty", &Filter{}, true},
		{"subject", &Filter{Subject: "ana"}, true},
		{"other subject", &Filter{Subject: "bo"}, false},
		{"action", &Filter{Action: ActionRollback}, true},
		{"other action", &Filter{Action: ActionCommit}, false},
		{"resource", &Filter{ResourceType: ResourceSnapshot, ResourceID: "sha256:ab"}, true},
		{"other resource", &Filter{ResourceType: ResourceBundle}, false},
		{"status", &Filter{Status: StatusSuccess}, false},
		{"window", &Filter{StartTime: &before, EndTime: &after}, true},
		{"starts later", &Filter{StartTime: &after}, false},
		{"ended earlier", &Filter{EndTime: &before}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.Matches(e); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

type failing struct{ n int64 }

func (f *failing) Log(*Event) error     { f.n++; return errors.New("disk full") }
func (f *failing) GetEventCount() int64 { return f.n }

func TestMulti(t *testing.T) {
	ring := NewAuditLogger(10)
	bad := &failing{}
	m := NewMulti(bad, nil, ring)

	err := m.Log(NewEvent(ActionApply, ResourceSnapshot, "x", StatusSuccess))
	assert.ErrorContains(t, err, "disk full")
	assert.Equal(t, int64(1), bad.n)
	assert.Equal(t, int64(1), m.GetEventCount())
	assert.Len(t, m.GetEvents(nil), 1, "queries go to the ring")

	assert.Nil(t, NewMulti(bad).GetEvents(nil))
	assert.Zero(t, NewMulti().GetEventCount())
}

func TestEvent_String(t *testing.T) {
	e := NewEvent(ActionCreateBundle, ResourceBundle, "b-1", StatusSuccess)
	assert.Contains(t, e.String(), "anonymous create_bundle bundle b-1 (success)")
	e.Subject = "ana"
	assert.Contains(t, e.String(), "ana create_bundle")
}
