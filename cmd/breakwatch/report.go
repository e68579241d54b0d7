package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"breakwatch/internal/database"
	"breakwatch/internal/report"

	"github.com/spf13/cobra"
)

func newReportCmd(a *app) *cobra.Command {
	var month, out string
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Export a month of closed breaks to an xlsx workbook",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			loc, err := a.cfg.SchedulerLocation()
			if err != nil {
				return fmt.Errorf("timezone %q: %w", a.cfg.Scheduler.Timezone, err)
			}

			m := time.Now().In(loc)
			if month != "" {
				if m, err = report.ParseMonth(month, loc); err != nil {
					return err
				}
			}
			if out == "" {
				out = report.Filename(m)
			}

			db, err := database.NewDB(a.cfg.Database.Path, a.logger)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer db.Close()

			svc := report.NewService(db, report.Config{Location: loc}, a.logger)
			n, err := exportFile(out, func(w io.Writer) (int, error) {
				return svc.Export(cmd.Context(), m, w)
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d breaks to %s\n", n, out)
			return nil
		},
	}
	cmd.Flags().StringVar(&month, "month", "", "month to export as YYYY-MM (default: current month)")
	cmd.Flags().StringVar(&out, "out", "", "output file (default: breaks_YYYY-MM.xlsx)")
	return cmd
}

// exportFile writes a workbook to path. A failed export leaves no file behind.
func exportFile(path string, export func(io.Writer) (int, error)) (n int, err error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", path, cerr)
		}
		if err != nil {
			n = 0
			if rerr := os.Remove(path); rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
				err = errors.Join(err, fmt.Errorf("remove %s: %w", path, rerr))
			}
		}
	}()

	return export(f)
}
