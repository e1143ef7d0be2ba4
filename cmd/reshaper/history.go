package main

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"time"

	"slice2series/core/models"
	"slice2series/core/repository"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"
)

var historyHeader = lipgloss.NewStyle().Bold(true)

func newHistoryCmd(a *app) *cobra.Command {
	f := &ledgerFlags{}
	var limit int
	var events bool
	cmd := &cobra.Command{
		Use:   "history [RUN_ID]",
		Short: "List recorded runs, or the tasks of one run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := f.open(a)
			if err != nil {
				return err
			}
			if db == nil {
				return models.Configf("no run ledger configured; set --ledger-dsn or RESHAPER_LEDGER_DSN")
			}
			defer db.Close()

			runs := repository.NewRunRepository(db)
			if len(args) == 0 {
				list, err := runs.ListRuns(limit)
				if err != nil {
					return err
				}
				printRuns(cmd.OutOrStdout(), list)
				return nil
			}

			run, err := runs.GetRun(args[0])
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("run %s not found", args[0])
			}
			if err != nil {
				return err
			}
			results, err := runs.GetTaskResults(run.ID)
			if err != nil {
				return err
			}
			printRun(cmd.OutOrStdout(), run, results)

			if events {
				list, err := repository.NewEventRepository(db).GetTaskEvents(run.ID, "", 0)
				if err != nil {
					return err
				}
				printEvents(cmd.OutOrStdout(), list)
			}
			return nil
		},
	}
	f.register(cmd)
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of runs to list")
	cmd.Flags().BoolVar(&events, "events", false, "Also list the task state changes of the run")
	return cmd
}

func printRuns(w io.Writer, runs []*models.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "no runs recorded")
		return
	}
	fmt.Fprintln(w, historyHeader.Render(fmt.Sprintf("%-36s  %-19s  %-12s  %7s  %5s  %5s  %5s  %10s",
		"RUN", "STARTED", "NAME", "WORKERS", "DONE", "SKIP", "FAIL", "WRITTEN")))
	for _, r := range runs {
		fmt.Fprintf(w, "%-36s  %-19s  %s  %7d  %5d  %5d  %5d  %10s\n",
			r.ID,
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			runewidth.FillRight(runewidth.Truncate(r.Name, 12, "…"), 12),
			r.Workers, r.Completed, r.Skipped, r.Failed,
			humanize.IBytes(uint64(r.BytesWritten)),
		)
	}
}

func printRun(w io.Writer, run *models.Run, results []models.DiagnosticRecord) {
	fmt.Fprintf(w, "%s %s\n", historyHeader.Render("run"), run.ID)
	fmt.Fprintf(w, "name %q, mode %s, %d workers, started %s, took %s\n",
		run.Name, run.WriteMode, run.Workers,
		humanize.Time(run.StartedAt), run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond))
	for _, rec := range results {
		line := fmt.Sprintf("  %s  rank %d  %-9s  %s",
			runewidth.FillRight(rec.Variable, 16), rec.Rank, rec.Status, humanize.IBytes(uint64(rec.BytesWritten)))
		if rec.Error != "" {
			line += "  " + rec.Error
		}
		fmt.Fprintln(w, line)
	}
}

func printEvents(w io.Writer, events []models.TaskEvent) {
	for _, ev := range events {
		from := "-"
		if ev.FromState != nil {
			from = string(*ev.FromState)
		}
		fmt.Fprintf(w, "  %s  %s  %s -> %s  %s\n",
			ev.At.Local().Format("15:04:05.000"), runewidth.FillRight(ev.Variable, 16), from, ev.ToState, ev.Reason)
	}
}
