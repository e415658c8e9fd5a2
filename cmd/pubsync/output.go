package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/Ning0612/pubsync/internal/domain"
	"github.com/Ning0612/pubsync/internal/progress"
	"github.com/Ning0612/pubsync/internal/session"
	"github.com/Ning0612/pubsync/internal/state"
)

// marker shows the direction of a change followed by its kind
func marker(t domain.SyncType) string {
	var dir string
	switch t.Family() {
	case domain.FamilyRemote:
		dir = "<"
	case domain.FamilyLocal:
		dir = ">"
	case domain.FamilyConflict:
		return "!!"
	default:
		return "  "
	}
	switch {
	case t.IsAdded():
		return dir + "+"
	case t.IsRemoved():
		return dir + "-"
	}
	return dir + "~"
}

func printItems(w io.Writer, items []domain.Item) {
	for _, it := range items {
		switch v := it.(type) {
		case *domain.ChangeItem:
			box := "[ ]"
			if v.Checked {
				box = "[x]"
			}
			fmt.Fprintf(w, "%s %s %-40s %s", box, marker(v.SyncType), v.RelativePath, v.SyncType.Description())
			if v.StatusMessage != "" {
				fmt.Fprintf(w, " (%s)", v.StatusMessage)
			}
			fmt.Fprintln(w)
		case *domain.LogItem:
			fmt.Fprintf(w, "%-5s %s\n", strings.ToUpper(v.Level.String()), v.Message())
		case *domain.LoadingItem:
			fmt.Fprintf(w, "...   %s\n", v.StatusMessage)
		}
	}
}

func printSummary(w io.Writer, sum *session.Summary) {
	if sum == nil {
		fmt.Fprintln(w, "Nothing requires synchronization.")
		return
	}
	fmt.Fprintf(w, "%d completed, %d failed, %s transferred in %s\n",
		sum.Completed, sum.Failed, humanize.Bytes(uint64(sum.Bytes)),
		sum.Ended.Sub(sum.Started).Round(time.Millisecond))
	if sum.Stopped {
		fmt.Fprintln(w, "Run was stopped before it finished.")
	}
	for _, e := range sum.Errors {
		fmt.Fprintf(w, "  error: %s\n", e)
	}
}

func printHistory(w io.Writer, records []state.ExecutionRecord) {
	if len(records) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return
	}
	for _, r := range records {
		fmt.Fprintf(w, "%-20s %-8s %5d files %10s  %s",
			r.Publication, r.Status, r.FilesSynced,
			humanize.Bytes(uint64(r.BytesSynced)), humanize.Time(r.StartTime))
		if r.Error != "" {
			fmt.Fprintf(w, "  %s", r.Error)
		}
		fmt.Fprintln(w)
	}
}

// progressPrinter reports transfer progress on one rewritten line
func progressPrinter(w io.Writer) func(string, int) {
	return func(label string, percent int) {
		fmt.Fprintf(w, "\r%s %s", progress.FormatProgress(int64(percent), 100, 24), label)
		if percent >= 100 {
			fmt.Fprintln(w)
		}
	}
}
