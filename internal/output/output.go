package output

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/joescharf/taskreview/internal/models"
)

// UI provides colored output and respects verbose/dry-run modes.
type UI struct {
	Verbose bool
	DryRun  bool
	Out     io.Writer
	ErrOut  io.Writer
}

// New creates a UI with default stdout/stderr writers.
func New() *UI {
	return &UI{
		Out:    os.Stdout,
		ErrOut: os.Stderr,
	}
}

var (
	infoPrefix    = color.New(color.FgHiBlue).Sprint("i")
	successPrefix = color.New(color.FgHiGreen).Sprint("✓")
	warningPrefix = color.New(color.FgHiYellow).Sprint("⚠")
	errorPrefix   = color.New(color.FgHiRed).Sprint("✗")
	verbosePrefix = color.New(color.FgHiBlue).Sprint("  →")
	cyan          = color.New(color.FgHiCyan).SprintFunc()
	green         = color.New(color.FgHiGreen).SprintFunc()
	yellow        = color.New(color.FgHiYellow).SprintFunc()
	red           = color.New(color.FgHiRed).SprintFunc()
	faint         = color.New(color.Faint).SprintFunc()
)

// Cyan returns a cyan-colored string.
func Cyan(s string) string { return cyan(s) }

// Green returns a green-colored string.
func Green(s string) string { return green(s) }

// Yellow returns a yellow-colored string.
func Yellow(s string) string { return yellow(s) }

// Red returns a red-colored string.
func Red(s string) string { return red(s) }

// StatusColor returns the review status colored by outcome.
func StatusColor(status models.ReviewStatus) string {
	s := status.String()
	switch {
	case status.IsApproval():
		return green(s)
	case status == models.ReviewStatusRejected:
		return red(s)
	case status.AwaitingReview(), status == models.ReviewStatusAssisted:
		return yellow(s)
	case status == models.ReviewStatusUnnecessary:
		return faint(s)
	default:
		return s
	}
}

// MetaStatusColor returns the meta-review status colored by outcome.
func MetaStatusColor(status models.MetaReviewStatus) string {
	s := status.String()
	switch status {
	case models.MetaReviewStatusApproved:
		return green(s)
	case models.MetaReviewStatusRejected:
		return red(s)
	case models.MetaReviewStatusRequested, models.MetaReviewStatusAssisted:
		return yellow(s)
	case models.MetaReviewStatusUnnecessary:
		return faint(s)
	default:
		return s
	}
}

func (u *UI) Info(format string, a ...any) {
	fmt.Fprintf(u.Out, "%s %s\n", infoPrefix, fmt.Sprintf(format, a...))
}

func (u *UI) Success(format string, a ...any) {
	fmt.Fprintf(u.Out, "%s %s\n", successPrefix, fmt.Sprintf(format, a...))
}

func (u *UI) Warning(format string, a ...any) {
	fmt.Fprintf(u.ErrOut, "%s %s\n", warningPrefix, fmt.Sprintf(format, a...))
}

func (u *UI) Error(format string, a ...any) {
	fmt.Fprintf(u.ErrOut, "%s %s\n", errorPrefix, fmt.Sprintf(format, a...))
}

func (u *UI) VerboseLog(format string, a ...any) {
	if u.Verbose {
		fmt.Fprintf(u.Out, "%s %s\n", verbosePrefix, fmt.Sprintf(format, a...))
	}
}

func (u *UI) DryRunMsg(format string, a ...any) {
	if u.DryRun {
		u.Warning("[DRY-RUN] "+format, a...)
	}
}

// Table creates a new tablewriter configured with consistent styling.
func (u *UI) Table(headers []string) *tablewriter.Table {
	table := tablewriter.NewTable(u.Out,
		tablewriter.WithHeaderAlignment(tw.AlignLeft),
		tablewriter.WithRowAlignment(tw.AlignLeft),
		tablewriter.WithRendition(tw.Rendition{
			Borders: tw.BorderNone,
			Settings: tw.Settings{
				Lines:      tw.LinesNone,
				Separators: tw.SeparatorsNone,
			},
		}),
		tablewriter.WithPadding(tw.Padding{Left: "", Right: "  "}),
	)
	table.Header(headers)
	return table
}

// Task prints a task's review state as a key/value listing.
func (u *UI) Task(t *models.Task) {
	r := t.Review
	fmt.Fprintf(u.Out, "%s %d %s\n", cyan("Task"), t.ID, t.Name)
	fmt.Fprintf(u.Out, "  Challenge:     %d\n", t.ParentID)
	if t.BundleID != nil {
		primary := ""
		if t.IsBundlePrimary {
			primary = " (primary)"
		}
		fmt.Fprintf(u.Out, "  Bundle:        %d%s\n", *t.BundleID, primary)
	}
	fmt.Fprintf(u.Out, "  Review:        %s\n", StatusColor(r.ReviewStatus))
	fmt.Fprintf(u.Out, "  Requested by:  %s\n", userRef(r.ReviewRequestedBy))
	fmt.Fprintf(u.Out, "  Reviewed by:   %s\n", userRef(r.ReviewedBy))
	if r.ReviewedAt != nil {
		fmt.Fprintf(u.Out, "  Reviewed at:   %s\n", timeRef(*r.ReviewedAt))
	}
	if len(r.AdditionalReviewers) > 0 {
		fmt.Fprintf(u.Out, "  Also reviewed: %v\n", r.AdditionalReviewers)
	}
	if r.IsClaimed() {
		fmt.Fprintf(u.Out, "  Claimed by:    %s since %s\n", userRef(r.ReviewClaimedBy), timeRef(*r.ReviewClaimedAt))
	}
	fmt.Fprintf(u.Out, "  Meta-review:   %s\n", MetaStatusColor(r.MetaReviewStatus))
	if r.MetaReviewedBy != nil {
		fmt.Fprintf(u.Out, "  Meta by:       %s\n", userRef(r.MetaReviewedBy))
	}
}

// TaskTable prints one row per task.
func (u *UI) TaskTable(tasks []*models.Task) error {
	table := u.Table([]string{"ID", "CHALLENGE", "STATUS", "META", "REQUESTED BY", "REVIEWED BY", "CLAIMED BY"})
	for _, t := range tasks {
		r := t.Review
		if err := table.Append([]string{
			strconv.FormatInt(t.ID, 10),
			strconv.FormatInt(t.ParentID, 10),
			StatusColor(r.ReviewStatus),
			MetaStatusColor(r.MetaReviewStatus),
			userRef(r.ReviewRequestedBy),
			userRef(r.ReviewedBy),
			userRef(r.ReviewClaimedBy),
		}); err != nil {
			return err
		}
	}
	return table.Render()
}

// HistoryTable prints review history entries in the order given.
func (u *UI) HistoryTable(entries []*models.ReviewHistoryEntry) error {
	table := u.Table([]string{"WHEN", "STATUS", "META", "REVIEWER", "CLAIM", "COMMENT"})
	for _, h := range entries {
		claim := "-"
		if h.ReviewStartedAt != nil {
			claim = h.ClaimDuration().Round(time.Second).String()
		}
		if err := table.Append([]string{
			timeRef(h.ReviewedAt),
			StatusColor(h.ReviewStatus),
			MetaStatusColor(h.MetaReviewStatus),
			userRef(h.ReviewedBy),
			claim,
			h.Comment,
		}); err != nil {
			return err
		}
	}
	return table.Render()
}

func userRef(id *int64) string {
	if id == nil {
		return "-"
	}
	return strconv.FormatInt(*id, 10)
}

func timeRef(t time.Time) string {
	return t.Local().Format("2006-01-02 15:04")
}
