package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseScheduledStart(t *testing.T) {
	tests := []struct {
		in         string
		wantHour   int
		wantMinute int
		wantErr    bool
	}{
		{"1:45 PM", 13, 45, false},
		{"01:45 pm", 13, 45, false},
		{"9:05AM", 9, 5, false},
		{"12:00 AM", 0, 0, false},
		{"12:30 PM", 12, 30, false},
		{"11:59 PM", 23, 59, false},
		{"  10:15 am  ", 10, 15, false},
		{"13:45", 0, 0, true},
		{"13:45 PM", 0, 0, true},
		{"0:30 AM", 0, 0, true},
		{"1:5 PM", 0, 0, true},
		{"1:60 PM", 0, 0, true},
		{"lunch", 0, 0, true},
		{"+1:45 PM", 0, 0, true},
		{"1:+5 PM", 0, 0, true},
		{"-1:45 PM", 0, 0, true},
		{"1:-5 PM", 0, 0, true},
		{"", 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseScheduledStart(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidScheduledStart)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantHour, got.Hour)
			assert.Equal(t, tt.wantMinute, got.Minute)
		})
	}
}

func TestWallClock_MinuteOfDay(t *testing.T) {
	c := WallClock{Hour: 13, Minute: 45}
	assert.Equal(t, 825, c.MinuteOfDay())
	assert.Equal(t, "13:45", c.String())
}

func TestBreak_Status(t *testing.T) {
	now := time.Now()
	b := Break{ID: 1, DurationMinutes: 15}
	assert.Equal(t, BreakPending, b.Status())

	b.ActualStart = &now
	assert.Equal(t, BreakInProgress, b.Status())

	end := now.Add(20 * time.Minute)
	b.ActualEnd = &end
	assert.Equal(t, BreakClosed, b.Status())
	assert.Equal(t, 5*time.Minute, b.Overrun())
}

func TestBreakType_Valid(t *testing.T) {
	assert.True(t, BreakLunch.Valid())
	assert.True(t, BreakAwayFromDesk.Valid())
	assert.False(t, BreakType("coffee").Valid())
}
