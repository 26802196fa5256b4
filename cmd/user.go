package cmd

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/joescharf/taskreview/internal/models"
	"github.com/joescharf/taskreview/internal/output"
)

var (
	userReviewer bool
	userSuper    bool
	userID       int64
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage users and their review capabilities",
}

var userAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return userAddRun(args[0])
	},
}

var userAdminCmd = &cobra.Command{
	Use:   "admin <user> <challenge-id>",
	Short: "Grant a user write access to a challenge",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return userAdminRun(args[0], args[1])
	},
}

var userShowCmd = &cobra.Command{
	Use:   "show <user>",
	Short: "Show a user's review counters and achievements",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return userShowRun(args[0])
	},
}

func init() {
	userAddCmd.Flags().BoolVar(&userReviewer, "reviewer", false, "Grant the reviewer capability")
	userAddCmd.Flags().BoolVar(&userSuper, "super", false, "Grant super-user rights")
	userAddCmd.Flags().Int64Var(&userID, "id", 0, "Explicit user id (default: next free id)")

	userCmd.AddCommand(userAddCmd)
	userCmd.AddCommand(userAdminCmd)
	userCmd.AddCommand(userShowCmd)
	rootCmd.AddCommand(userCmd)
}

func userAddRun(name string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	if dryRun {
		ui.DryRunMsg("Would add user %s", name)
		return nil
	}

	u := &models.User{ID: userID, Name: name, IsReviewer: userReviewer, IsSuperUser: userSuper}
	if err := s.CreateUser(context.Background(), u); err != nil {
		return err
	}
	ui.Success("Added user %s (id %d)", u.Name, u.ID)
	return nil
}

func userAdminRun(userRef, challengeArg string) error {
	challengeID, err := parseID(challengeArg, "challenge")
	if err != nil {
		return err
	}
	ctx := context.Background()
	s, err := getStore()
	if err != nil {
		return err
	}
	u, err := resolveUser(ctx, s, userRef)
	if err != nil {
		return err
	}
	if dryRun {
		ui.DryRunMsg("Would make %s an admin of challenge %d", u.Name, challengeID)
		return nil
	}
	if err := s.AddChallengeAdmin(ctx, challengeID, u.ID); err != nil {
		return err
	}
	ui.Success("%s is now an admin of challenge %d", u.Name, challengeID)
	return nil
}

func userShowRun(userRef string) error {
	ctx := context.Background()
	s, err := getStore()
	if err != nil {
		return err
	}
	u, err := resolveUser(ctx, s, userRef)
	if err != nil {
		return err
	}
	m, err := s.GetUserMetrics(ctx, u.ID)
	if err != nil {
		return err
	}
	achievements, err := s.ListAchievements(ctx, u.ID)
	if err != nil {
		return err
	}

	roles := "mapper"
	if u.IsReviewer {
		roles += ", reviewer"
	}
	if u.IsSuperUser {
		roles += ", super user"
	}
	fmt.Fprintf(ui.Out, "%s %s (id %d)\n", output.Cyan("User"), u.Name, u.ID)
	fmt.Fprintf(ui.Out, "  Roles: %s\n\n", roles)

	table := ui.Table([]string{"COUNTER", "VALUE"})
	rows := [][2]string{
		{"approved", strconv.FormatInt(m.TotalApproved, 10)},
		{"rejected", strconv.FormatInt(m.TotalRejected, 10)},
		{"assisted", strconv.FormatInt(m.TotalAssisted, 10)},
		{"reviews approved", strconv.FormatInt(m.ReviewsApproved, 10)},
		{"reviews rejected", strconv.FormatInt(m.ReviewsRejected, 10)},
		{"reviews assisted", strconv.FormatInt(m.ReviewsAssisted, 10)},
		{"reviews disputed", strconv.FormatInt(m.ReviewsDisputed, 10)},
		{"meta-reviews", strconv.FormatInt(m.MetaReviews, 10)},
		{"review time", (time.Duration(m.ReviewTimeMs) * time.Millisecond).String()},
	}
	for _, r := range rows {
		_ = table.Append([]string{r[0], r[1]})
	}
	if err := table.Render(); err != nil {
		return err
	}

	if len(achievements) > 0 {
		fmt.Fprintln(ui.Out)
		for _, a := range achievements {
			fmt.Fprintf(ui.Out, "  %s %s\n", output.Green("★"), a.Code)
		}
	}
	return nil
}
