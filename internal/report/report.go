// Package report exports closed breaks as a monthly xlsx workbook.
package report

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"breakwatch/internal/models"

	"github.com/rs/zerolog"
)

// Source lists breaks that ended within [from, to).
type Source interface {
	ClosedBreaksBetween(ctx context.Context, from, to time.Time) ([]models.Break, error)
}

// Config controls how the report renders.
type Config struct {
	Location  *time.Location
	LateGrace time.Duration
}

// Service builds monthly break reports.
type Service struct {
	source    Source
	config    Config
	newWriter func() Writer
	logger    zerolog.Logger
}

func NewService(source Source, cfg Config, logger zerolog.Logger) *Service {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.LateGrace <= 0 {
		cfg.LateGrace = time.Minute
	}
	return &Service{
		source:    source,
		config:    cfg,
		newWriter: NewExcelizeWriter,
		logger:    logger.With().Str("component", "report").Logger(),
	}
}

var breakColumns = []string{
	"Worker", "Type", "Scheduled start", "Duration (min)",
	"Actual start", "Actual end", "Taken (min)", "Overrun (min)", "Late",
}

var summaryColumns = []string{"Worker", "Breaks", "Late returns", "Overrun (min)"}

type workerSummary struct {
	breaks  int
	late    int
	overrun time.Duration
}

// Export writes the report for the month containing month to w and returns
// the number of breaks included.
func (s *Service) Export(ctx context.Context, month time.Time, w io.Writer) (int, error) {
	from, to := MonthRange(month, s.config.Location)
	breaks, err := s.source.ClosedBreaksBetween(ctx, from, to)
	if err != nil {
		return 0, fmt.Errorf("load closed breaks: %w", err)
	}

	sort.SliceStable(breaks, func(i, j int) bool {
		if breaks[i].WorkerID != breaks[j].WorkerID {
			return breaks[i].WorkerID < breaks[j].WorkerID
		}
		return breaks[i].ActualStart.Before(*breaks[j].ActualStart)
	})

	xw := s.newWriter()
	defer xw.Close()

	if err := xw.AddSheet("Breaks " + from.Format("2006-01")); err != nil {
		return 0, err
	}
	if err := xw.WriteHeader(breakColumns); err != nil {
		return 0, err
	}

	summaries := make(map[string]*workerSummary)
	var workers []string
	for _, b := range breaks {
		overrun := b.Overrun()
		late := overrun > s.config.LateGrace

		row := []any{
			b.WorkerID,
			string(b.Type),
			b.ScheduledStart,
			b.DurationMinutes,
			b.ActualStart.In(s.config.Location).Format("2006-01-02 15:04"),
			b.ActualEnd.In(s.config.Location).Format("2006-01-02 15:04"),
			minutes(b.ActualEnd.Sub(*b.ActualStart)),
			minutes(overrun),
			yesNo(late),
		}
		if err := xw.WriteRow(row); err != nil {
			return 0, err
		}

		sum, ok := summaries[b.WorkerID]
		if !ok {
			sum = &workerSummary{}
			summaries[b.WorkerID] = sum
			workers = append(workers, b.WorkerID)
		}
		sum.breaks++
		sum.overrun += overrun
		if late {
			sum.late++
		}
	}

	if err := xw.AddSheet("Summary"); err != nil {
		return 0, err
	}
	if err := xw.WriteHeader(summaryColumns); err != nil {
		return 0, err
	}
	for _, worker := range workers {
		sum := summaries[worker]
		if err := xw.WriteRow([]any{worker, sum.breaks, sum.late, minutes(sum.overrun)}); err != nil {
			return 0, err
		}
	}

	if err := xw.Save(w); err != nil {
		return 0, fmt.Errorf("save workbook: %w", err)
	}

	s.logger.Info().
		Str("month", from.Format("2006-01")).
		Int("breaks", len(breaks)).
		Int("workers", len(workers)).
		Msg("break report exported")
	return len(breaks), nil
}

// MonthRange returns the first instant of month's month and of the next one.
func MonthRange(month time.Time, loc *time.Location) (time.Time, time.Time) {
	m := month.In(loc)
	from := time.Date(m.Year(), m.Month(), 1, 0, 0, 0, 0, loc)
	return from, from.AddDate(0, 1, 0)
}

// ParseMonth parses "YYYY-MM".
func ParseMonth(s string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation("2006-01", s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid month %q, want YYYY-MM: %w", s, err)
	}
	return t, nil
}

// Filename returns the default file name for a month's report.
func Filename(month time.Time) string {
	return fmt.Sprintf("breaks_%s.xlsx", month.Format("2006-01"))
}

func minutes(d time.Duration) float64 {
	return float64(d.Round(time.Second)) / float64(time.Minute)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
