package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joescharf/taskreview/internal/models"
	"github.com/joescharf/taskreview/internal/output"
	"github.com/joescharf/taskreview/internal/store"
)

var (
	reviewComment    string
	reviewType       string
	reviewChallenge  int64
	reviewCursor     int64
	reviewSort       string
	reviewDesc       bool
	reviewIncludeOwn bool
	reviewExclude    bool
	reviewClaim      bool
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Claim, decide and audit task reviews",
	Long: `Drive the review lifecycle of a task. The acting user is taken from
--as or $TASKREVIEW_ACTOR.`,
}

var reviewStartCmd = &cobra.Command{
	Use:   "start <task-id>",
	Short: "Claim a task (and its bundle) for review",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return reviewStartRun(args[0])
	},
}

var reviewCancelCmd = &cobra.Command{
	Use:   "cancel <task-id>",
	Short: "Release a review claim",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return reviewCancelRun(args[0])
	},
}

var reviewSetCmd = &cobra.Command{
	Use:   "set <task-id> <status>",
	Short: "Set the review status of a task",
	Long: `Set the review status of a task. Status is one of: requested, approved,
approved_with_revisions, approved_with_fixes_after_revisions, rejected,
assisted, disputed, unnecessary.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return reviewSetRun(args[0], args[1])
	},
}

var reviewDisputeCmd = &cobra.Command{
	Use:   "dispute <task-id>",
	Short: "Contest the current review of a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return reviewDisputeRun(args[0])
	},
}

var reviewMetaCmd = &cobra.Command{
	Use:   "meta <task-id> <status>",
	Short: "Set the meta-review status of a task",
	Long:  "Set the meta-review status of a task. Status is one of: requested, approved, rejected, assisted, unnecessary.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return reviewMetaRun(args[0], args[1])
	},
}

var reviewNextCmd = &cobra.Command{
	Use:   "next",
	Short: "Show (or claim) the next task in the review queue",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return reviewNextRun()
	},
}

var reviewShowCmd = &cobra.Command{
	Use:   "show <task-id>",
	Short: "Show a task's review state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return reviewShowRun(args[0])
	},
}

var reviewHistoryCmd = &cobra.Command{
	Use:   "history <task-id>",
	Short: "List a task's review history, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return reviewHistoryRun(args[0])
	},
}

func init() {
	for _, c := range []*cobra.Command{reviewSetCmd, reviewDisputeCmd, reviewMetaCmd} {
		c.Flags().StringVarP(&reviewComment, "comment", "m", "", "Review comment")
	}

	reviewNextCmd.Flags().StringVar(&reviewType, "type", string(store.ReviewTypeToBeReviewed),
		"Queue: to_be_reviewed, reviewed_by_me, all_reviewed, meta_review")
	reviewNextCmd.Flags().Int64Var(&reviewChallenge, "challenge", 0, "Restrict to one challenge")
	reviewNextCmd.Flags().Int64Var(&reviewCursor, "after", 0, "Last task id seen")
	reviewNextCmd.Flags().StringVar(&reviewSort, "sort", string(store.QueueSortID), "Sort: id, requested")
	reviewNextCmd.Flags().BoolVar(&reviewDesc, "desc", false, "Reverse the sort order")
	reviewNextCmd.Flags().BoolVar(&reviewIncludeOwn, "include-own", false, "Include tasks you requested review for")
	reviewNextCmd.Flags().BoolVar(&reviewExclude, "exclude-other-reviewers", false, "Skip tasks another reviewer already decided")
	reviewNextCmd.Flags().BoolVar(&reviewClaim, "claim", false, "Claim the task that is found")

	reviewCmd.AddCommand(reviewStartCmd)
	reviewCmd.AddCommand(reviewCancelCmd)
	reviewCmd.AddCommand(reviewSetCmd)
	reviewCmd.AddCommand(reviewDisputeCmd)
	reviewCmd.AddCommand(reviewMetaCmd)
	reviewCmd.AddCommand(reviewNextCmd)
	reviewCmd.AddCommand(reviewShowCmd)
	reviewCmd.AddCommand(reviewHistoryCmd)
	rootCmd.AddCommand(reviewCmd)
}

// reviewSetup resolves the workflow, the acting user and the task id.
func reviewSetup(ctx context.Context, taskArg string) (models.Actor, int64, error) {
	taskID, err := parseID(taskArg, "task")
	if err != nil {
		return models.Actor{}, 0, err
	}
	if _, err := getWorkflow(); err != nil {
		return models.Actor{}, 0, err
	}
	actor, err := currentActor(ctx, dataStore)
	return actor, taskID, err
}

func reviewStartRun(taskArg string) error {
	ctx := context.Background()
	actor, taskID, err := reviewSetup(ctx, taskArg)
	if err != nil {
		return err
	}
	if dryRun {
		ui.DryRunMsg("Would claim task %d for %s", taskID, actor.Name)
		return nil
	}

	task, err := workflow.StartReview(ctx, actor, taskID)
	if err != nil {
		return err
	}
	ui.Success("Claimed task %d", taskID)
	if task.BundleID != nil {
		ui.VerboseLog("bundle %d claimed as a unit", *task.BundleID)
	}
	return nil
}

func reviewCancelRun(taskArg string) error {
	ctx := context.Background()
	actor, taskID, err := reviewSetup(ctx, taskArg)
	if err != nil {
		return err
	}
	if dryRun {
		ui.DryRunMsg("Would release the claim on task %d", taskID)
		return nil
	}

	if _, err := workflow.CancelReview(ctx, actor, taskID); err != nil {
		return err
	}
	ui.Success("Released task %d", taskID)
	return nil
}

func reviewSetRun(taskArg, statusArg string) error {
	status, err := models.ParseReviewStatus(statusArg)
	if err != nil {
		return err
	}
	ctx := context.Background()
	actor, taskID, err := reviewSetup(ctx, taskArg)
	if err != nil {
		return err
	}
	if dryRun {
		ui.DryRunMsg("Would set task %d to %s as %s", taskID, status, actor.Name)
		return nil
	}

	task, err := workflow.SetReviewStatus(ctx, actor, taskID, status, reviewComment)
	if err != nil {
		return err
	}
	ui.Success("Task %d is now %s", task.ID, output.StatusColor(task.Review.ReviewStatus))
	return nil
}

func reviewDisputeRun(taskArg string) error {
	ctx := context.Background()
	actor, taskID, err := reviewSetup(ctx, taskArg)
	if err != nil {
		return err
	}
	if dryRun {
		ui.DryRunMsg("Would dispute the review of task %d", taskID)
		return nil
	}

	task, err := workflow.DisputeReview(ctx, actor, taskID, reviewComment)
	if err != nil {
		return err
	}
	ui.Success("Task %d is now %s", task.ID, output.StatusColor(task.Review.ReviewStatus))
	return nil
}

func reviewMetaRun(taskArg, statusArg string) error {
	meta := models.ParseMetaReviewStatus(statusArg)
	ctx := context.Background()
	actor, taskID, err := reviewSetup(ctx, taskArg)
	if err != nil {
		return err
	}
	if dryRun {
		ui.DryRunMsg("Would set meta-review of task %d to %s", taskID, meta)
		return nil
	}

	task, err := workflow.SetMetaReviewStatus(ctx, actor, taskID, meta, reviewComment)
	if err != nil {
		return err
	}
	ui.Success("Task %d meta-review is now %s", task.ID, output.MetaStatusColor(task.Review.MetaReviewStatus))
	return nil
}

func reviewNextRun() error {
	ctx := context.Background()
	w, err := getWorkflow()
	if err != nil {
		return err
	}
	actor, err := currentActor(ctx, dataStore)
	if err != nil {
		return err
	}

	filter := store.QueueFilter{
		ReviewType:            store.ReviewType(reviewType),
		ChallengeID:           reviewChallenge,
		Sort:                  store.QueueSort(reviewSort),
		Descending:            reviewDesc,
		IncludeOwn:            reviewIncludeOwn,
		ExcludeOtherReviewers: reviewExclude,
	}

	var task *models.Task
	if reviewClaim && !dryRun {
		task, err = w.ClaimNext(ctx, actor, filter, reviewCursor)
	} else {
		task, err = w.NextReviewable(ctx, actor, filter, reviewCursor)
	}
	if err != nil {
		return err
	}
	if task == nil {
		ui.Info("Review queue is empty")
		return nil
	}
	if reviewClaim && dryRun {
		ui.DryRunMsg("Would claim task %d", task.ID)
	}
	ui.Task(task)
	return nil
}

func reviewShowRun(taskArg string) error {
	taskID, err := parseID(taskArg, "task")
	if err != nil {
		return err
	}
	s, err := getStore()
	if err != nil {
		return err
	}
	task, err := s.GetTask(context.Background(), taskID)
	if err != nil {
		return fmt.Errorf("task %d: %w", taskID, err)
	}
	ui.Task(task)
	return nil
}

func reviewHistoryRun(taskArg string) error {
	taskID, err := parseID(taskArg, "task")
	if err != nil {
		return err
	}
	w, err := getWorkflow()
	if err != nil {
		return err
	}
	entries, err := w.ReviewHistory(context.Background(), taskID)
	if err != nil {
		return fmt.Errorf("task %d: %w", taskID, err)
	}
	if len(entries) == 0 {
		ui.Info("No review history for task %d", taskID)
		return nil
	}
	return ui.HistoryTable(entries)
}
