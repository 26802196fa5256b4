package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joescharf/taskreview/internal/models"
)

var (
	taskChallenge int64
	taskName      string
	taskOwner     string
	taskPrimary   int64
	taskBundleNm  string
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Seed tasks and bundles",
	Long:  "Tasks and bundles are normally created upstream; these commands seed them locally.",
}

var taskAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a task to a challenge",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return taskAddRun()
	},
}

var taskBundleCmd = &cobra.Command{
	Use:   "bundle <task-id>...",
	Short: "Bundle tasks so they are reviewed as a unit",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return taskBundleRun(args)
	},
}

var taskShowCmd = &cobra.Command{
	Use:   "show <task-id>",
	Short: "Show a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return reviewShowRun(args[0])
	},
}

func init() {
	taskAddCmd.Flags().Int64Var(&taskChallenge, "challenge", 0, "Challenge id (required)")
	taskAddCmd.Flags().StringVar(&taskName, "name", "", "Task name")
	_ = taskAddCmd.MarkFlagRequired("challenge")

	taskBundleCmd.Flags().StringVar(&taskOwner, "owner", "", "Bundle owner id or name (default: acting user)")
	taskBundleCmd.Flags().Int64Var(&taskPrimary, "primary", 0, "Primary task id (default: no primary)")
	taskBundleCmd.Flags().StringVar(&taskBundleNm, "name", "", "Bundle name")

	taskCmd.AddCommand(taskAddCmd)
	taskCmd.AddCommand(taskBundleCmd)
	taskCmd.AddCommand(taskShowCmd)
	rootCmd.AddCommand(taskCmd)
}

func taskAddRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	if dryRun {
		ui.DryRunMsg("Would add task %q to challenge %d", taskName, taskChallenge)
		return nil
	}

	t := &models.Task{ParentID: taskChallenge, Name: taskName}
	if err := s.CreateTask(context.Background(), t); err != nil {
		return err
	}
	ui.Success("Added task %d to challenge %d", t.ID, t.ParentID)
	return nil
}

func taskBundleRun(args []string) error {
	ctx := context.Background()
	s, err := getStore()
	if err != nil {
		return err
	}

	ids := make([]int64, 0, len(args))
	for _, a := range args {
		id, err := parseID(a, "task")
		if err != nil {
			return err
		}
		ids = append(ids, id)
	}

	var owner *models.User
	if taskOwner != "" {
		owner, err = resolveUser(ctx, s, taskOwner)
	} else {
		var actor models.Actor
		actor, err = currentActor(ctx, s)
		owner = &models.User{ID: actor.ID, Name: actor.Name}
	}
	if err != nil {
		return err
	}

	b := &models.TaskBundle{OwnerID: owner.ID, Name: taskBundleNm, TaskIDs: ids}
	if taskPrimary != 0 {
		b.PrimaryTaskID = models.IDPtr(taskPrimary)
	}
	if dryRun {
		ui.DryRunMsg("Would bundle tasks %v for %s", ids, owner.Name)
		return nil
	}
	if err := s.CreateBundle(ctx, b); err != nil {
		return fmt.Errorf("create bundle: %w", err)
	}
	ui.Success("Created bundle %d with %d tasks", b.ID, len(b.TaskIDs))
	return nil
}
