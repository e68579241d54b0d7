package report

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"breakwatch/internal/database"
	"breakwatch/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func seed(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "report.db"), zerolog.New(io.Discard))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	add := func(worker string, typ models.BreakType, sched string, dur int, start time.Time, taken time.Duration) {
		sessionID, err := db.CreateSession(ctx, worker, start.Add(-4*time.Hour))
		require.NoError(t, err)
		b := models.Break{SessionID: sessionID, Type: typ, ScheduledStart: sched, DurationMinutes: dur}
		require.NoError(t, db.AddBreak(ctx, &b))
		require.NoError(t, db.MarkBreakStarted(ctx, b.ID, start))
		require.NoError(t, db.MarkBreakEnded(ctx, b.ID, start.Add(taken)))
	}

	add("W2", models.BreakLunch, "1:00 PM", 30, time.Date(2026, 10, 3, 13, 0, 0, 0, time.UTC), 30*time.Minute)
	add("W1", models.BreakLunch, "1:45 PM", 15, time.Date(2026, 10, 15, 13, 45, 0, 0, time.UTC), 20*time.Minute)
	add("W1", models.BreakMorningRest, "10:00 AM", 15, time.Date(2026, 10, 14, 10, 0, 0, 0, time.UTC), 15*time.Minute+30*time.Second)
	// previous month, excluded
	add("W1", models.BreakLunch, "1:45 PM", 15, time.Date(2026, 9, 30, 13, 45, 0, 0, time.UTC), 15*time.Minute)
	return db
}

func TestExport(t *testing.T) {
	db := seed(t)
	svc := NewService(db, Config{Location: time.UTC}, zerolog.New(io.Discard))

	var buf bytes.Buffer
	n, err := svc.Export(context.Background(), time.Date(2026, 10, 20, 0, 0, 0, 0, time.UTC), &buf)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{"Breaks 2026-10", "Summary"}, f.GetSheetList())

	rows, err := f.GetRows("Breaks 2026-10")
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, breakColumns, rows[0])

	// sorted by worker, then start
	assert.Equal(t, []string{"W1", "morning_rest", "10:00 AM", "15", "2026-10-14 10:00", "2026-10-14 10:15", "15.5", "0.5", "no"}, rows[1])
	assert.Equal(t, []string{"W1", "lunch", "1:45 PM", "15", "2026-10-15 13:45", "2026-10-15 14:05", "20", "5", "yes"}, rows[2])
	assert.Equal(t, "W2", rows[3][0])
	assert.Equal(t, "no", rows[3][8])

	summary, err := f.GetRows("Summary")
	require.NoError(t, err)
	require.Len(t, summary, 3)
	assert.Equal(t, []string{"W1", "2", "1", "5.5"}, summary[1])
	assert.Equal(t, []string{"W2", "1", "0", "0"}, summary[2])
}

func TestExportEmptyMonth(t *testing.T) {
	db := seed(t)
	svc := NewService(db, Config{Location: time.UTC}, zerolog.New(io.Discard))

	var buf bytes.Buffer
	n, err := svc.Export(context.Background(), time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), &buf)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Positive(t, buf.Len())
}

type brokenSource struct{}

func (brokenSource) ClosedBreaksBetween(context.Context, time.Time, time.Time) ([]models.Break, error) {
	return nil, errors.New("db gone")
}

func TestExportSourceError(t *testing.T) {
	svc := NewService(brokenSource{}, Config{}, zerolog.New(io.Discard))
	_, err := svc.Export(context.Background(), time.Now(), io.Discard)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db gone")
}

func TestMonthHelpers(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*3600)
	m, err := ParseMonth("2026-12", loc)
	require.NoError(t, err)

	from, to := MonthRange(m, loc)
	assert.Equal(t, time.Date(2026, 12, 1, 0, 0, 0, 0, loc), from)
	assert.Equal(t, time.Date(2027, 1, 1, 0, 0, 0, 0, loc), to)
	assert.Equal(t, "breaks_2026-12.xlsx", Filename(m))

	_, err = ParseMonth("12/2026", loc)
	assert.Error(t, err)
}
