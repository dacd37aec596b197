package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/yairfalse/awsdecomm/internal/ledger"
)

var (
	historyHost   string
	historyLimit  int
	historyLedger string
	historyLast   bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List past runs from the run ledger",
	Example: `  awsdecomm history                 # Last 20 runs
  awsdecomm history --host web01    # Runs for one host
  awsdecomm history --host web01 --last  # Most recent run for one host
  awsdecomm history --limit 0       # Everything`,
	RunE: runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().StringVar(&historyHost, "host", "", "Only runs for this host")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum number of runs (0 for all)")
	historyCmd.Flags().StringVar(&historyLedger, "ledger", "", "Ledger file (defaults to ledger_path from settings)")
	historyCmd.Flags().BoolVar(&historyLast, "last", false, "Only the most recent run (requires --host)")
}

func runHistory(cmd *cobra.Command, _ []string) error {
	if historyLast && historyHost == "" {
		return fmt.Errorf("--last requires --host")
	}

	path := historyLedger
	if path == "" {
		_, profile, err := loadProfile()
		if err != nil {
			return err
		}
		path = profile.LedgerPath
	}
	if path == "" {
		return fmt.Errorf("no ledger configured: set ledger_path or pass --ledger")
	}

	l, err := ledger.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = l.Close() }()

	records, err := queryHistory(l)
	if err != nil {
		return err
	}

	printHistory(cmd.OutOrStdout(), records)
	return nil
}

func queryHistory(l *ledger.Ledger) ([]ledger.Record, error) {
	switch {
	case historyLast:
		rec, err := l.Latest(historyHost)
		if errors.Is(err, ledger.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return []ledger.Record{rec}, nil
	case historyHost != "":
		return l.ListHost(historyHost, historyLimit)
	default:
		return l.List(historyLimit)
	}
}

func printHistory(out io.Writer, records []ledger.Record) {
	if len(records) == 0 {
		_, _ = fmt.Fprintln(out, "no runs recorded")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "RUN\tFINISHED\tHOST\tACTION\tVERDICT\tOUTCOME\tDIAGNOSTICS")
	for _, r := range records {
		verdict := r.Verdict
		if verdict == "" {
			verdict = "-"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID,
			r.Finished.Local().Format(time.DateTime),
			r.Host,
			r.Action,
			verdict,
			r.Outcome,
			truncate(strings.Join(r.Diagnostics, " "), 60),
		)
	}
	_ = w.Flush()
}

// truncate shortens s to at most n runes, cutting on a rune boundary.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-3]) + "..."
}
