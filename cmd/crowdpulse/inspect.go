package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/rewired-gh/crowdpulse/internal/models"
	"github.com/rewired-gh/crowdpulse/internal/monitor"
	"github.com/rewired-gh/crowdpulse/internal/report"
)

func newBacktestCmd(a *app) *cobra.Command {
	var hours int
	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "Replay the alert predicate over stored city history",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, backend, err := a.openHistory(ctx)
			if err != nil {
				return err
			}
			defer backend.Close()

			r := monitor.Backtest(store.City(), hours, time.Now(), a.thresholds())
			printBacktest(cmd.OutOrStdout(), r, a.cfg.GetLocation())
			return nil
		},
	}
	cmd.Flags().IntVar(&hours, "hours", monitor.DefaultLookbackHours,
		fmt.Sprintf("Lookback in hours (%d-%d)", monitor.MinLookbackHours, monitor.MaxLookbackHours))
	return cmd
}

func newStatusCmd(a *app) *cobra.Command {
	var points int
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the latest stored city snapshot and recent timeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, backend, err := a.openHistory(ctx)
			if err != nil {
				return err
			}
			defer backend.Close()

			printStatus(cmd.OutOrStdout(), a.cfg.Area.Name, store.City(), points, a.cfg.GetLocation())
			return nil
		},
	}
	cmd.Flags().IntVar(&points, "points", 12, "Timeline points to show")
	return cmd
}

func printBacktest(w io.Writer, r monitor.BacktestReport, loc *time.Location) {
	fmt.Fprintln(w, report.BacktestSummary(r))
	for _, row := range r.Rows {
		verdict := "No alert"
		if row.WouldAlert {
			verdict = "Would alert"
		}
		fmt.Fprintf(w, "%s  %5.1f  %s\n", row.Timestamp.In(loc).Format("2006-01-02 15:04"), row.Score, verdict)
	}
}

func printStatus(w io.Writer, area string, city []models.CityHistoryPoint, points int, loc *time.Location) {
	if len(city) == 0 {
		fmt.Fprintln(w, "No history yet. Start the detector with `crowdpulse run`.")
		return
	}
	latest := models.CitySnapshot(city[len(city)-1])
	fmt.Fprintln(w, report.StatusLabel(latest))
	fmt.Fprintln(w, report.ShareSummary(area, latest, loc))
	fmt.Fprintf(w, "City z %.2f, %d businesses, %d points in window\n", latest.CityZ, latest.BusinessCount, len(city))
	for _, p := range report.Timeline(city, points) {
		mark := ""
		if p.Alerted {
			mark = "  ALERT"
		}
		fmt.Fprintf(w, "  %s  %5.1f%s\n", p.Timestamp.In(loc).Format("01-02 15:04"), p.Score, mark)
	}
}
