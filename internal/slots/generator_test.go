package slots

import (
	"testing"

	"agentbook/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustWindow(t *testing.T, h model.Hours) Window {
	t.Helper()
	w, err := WindowFromHours(h)
	require.NoError(t, err)
	return w
}

func TestGenerate(t *testing.T) {
	tests := []struct {
		name   string
		hours  model.Hours
		booked []string
		cutoff int
		want   []string
	}{
		{
			name:  "standard day with break",
			hours: model.Hours{Start: "09:00", End: "18:00", BreakStart: "13:00", BreakEnd: "14:00"},
			want:  []string{"09:00", "10:00", "11:00", "12:00", "14:00", "15:00", "16:00", "17:00"},
		},
		{
			name:  "no break",
			hours: model.Hours{Start: "09:00", End: "12:00"},
			want:  []string{"09:00", "10:00", "11:00"},
		},
		{
			name:  "last step starts before end",
			hours: model.Hours{Start: "09:00", End: "11:30"},
			want:  []string{"09:00", "10:00", "11:00"},
		},
		{
			name:  "break not aligned to steps",
			hours: model.Hours{Start: "09:00", End: "13:00", BreakStart: "10:30", BreakEnd: "11:30"},
			want:  []string{"09:00", "10:00", "12:00"},
		},
		{
			name:  "break covering the whole day",
			hours: model.Hours{Start: "09:00", End: "18:00", BreakStart: "08:00", BreakEnd: "19:00"},
			want:  []string{},
		},
		{
			name:   "booked times removed",
			hours:  model.Hours{Start: "09:00", End: "12:00"},
			booked: []string{"10:00", "15:00"},
			want:   []string{"09:00", "11:00"},
		},
		{
			name:   "cutoff keeps the boundary",
			hours:  model.Hours{Start: "08:40", End: "18:00"},
			cutoff: 14*60 + 40,
			want:   []string{"14:40", "15:40", "16:40", "17:40"},
		},
		{
			name:  "empty window",
			hours: model.Hours{Start: "12:00", End: "12:00"},
			want:  []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Generate(mustWindow(t, tt.hours), BookedSet(tt.booked), tt.cutoff)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGenerateIsChronologicalAndOnGrid(t *testing.T) {
	w := mustWindow(t, model.Hours{Start: "07:15", End: "21:00", BreakStart: "12:00", BreakEnd: "13:00"})
	got := Generate(w, nil, 0)
	require.NotEmpty(t, got)

	prev := -1
	for _, s := range got {
		m, err := model.ParseClock(s)
		require.NoError(t, err)
		assert.Greater(t, m, prev)
		assert.Zero(t, (m-w.Start)%StepMinutes)
		assert.False(t, m >= w.BreakStart && m < w.BreakEnd, s)
		prev = m
	}
}

func TestApplyCutoff(t *testing.T) {
	slots := []string{"09:00", "10:00", "14:40", "15:00"}
	assert.Equal(t, []string{"14:40", "15:00"}, ApplyCutoff(slots, 14*60+40))
	assert.Equal(t, slots, ApplyCutoff(slots, 0))
	assert.Empty(t, ApplyCutoff(slots, 24*60))
}

func TestWindowFromHours(t *testing.T) {
	w, err := WindowFromHours(model.Hours{Start: "09:00", End: "18:00", BreakStart: "13:00", BreakEnd: "14:00"})
	require.NoError(t, err)
	assert.Equal(t, Window{Start: 540, End: 1080, BreakStart: 780, BreakEnd: 840, HasBreak: true}, w)

	w, err = WindowFromHours(model.Hours{Start: "09:00", End: "18:00", BreakStart: "13:00"})
	require.NoError(t, err)
	assert.False(t, w.HasBreak)

	_, err = WindowFromHours(model.Hours{Start: "9", End: "18:00"})
	assert.Error(t, err)
}
