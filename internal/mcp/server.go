package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/joescharf/taskreview/internal/models"
	"github.com/joescharf/taskreview/internal/review"
	"github.com/joescharf/taskreview/internal/store"
)

// Server exposes the review workflow as MCP tools.
type Server struct {
	store    store.Store
	workflow *review.Workflow
	version  string
}

// NewServer creates the MCP server wrapper.
func NewServer(s store.Store, w *review.Workflow, version string) *Server {
	if version == "" {
		version = "dev"
	}
	return &Server{store: s, workflow: w, version: version}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("taskreview", s.version, server.WithToolCapabilities(true))

	srv.AddTool(s.startReviewTool())
	srv.AddTool(s.cancelReviewTool())
	srv.AddTool(s.setStatusTool())
	srv.AddTool(s.disputeTool())
	srv.AddTool(s.setMetaStatusTool())
	srv.AddTool(s.nextTool())
	srv.AddTool(s.showTaskTool())
	srv.AddTool(s.historyTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	stdioServer := server.NewStdioServer(s.MCPServer())
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

// ---------------------------------------------------------------------------
// Output shapes
// ---------------------------------------------------------------------------

type taskOut struct {
	ID                  int64      `json:"id"`
	ChallengeID         int64      `json:"challenge_id"`
	Name                string     `json:"name,omitempty"`
	BundleID            *int64     `json:"bundle_id,omitempty"`
	IsBundlePrimary     bool       `json:"is_bundle_primary,omitempty"`
	ReviewStatus        string     `json:"review_status"`
	MetaReviewStatus    string     `json:"meta_review_status"`
	ReviewRequestedBy   *int64     `json:"review_requested_by,omitempty"`
	ReviewedBy          *int64     `json:"reviewed_by,omitempty"`
	ReviewedAt          *time.Time `json:"reviewed_at,omitempty"`
	AdditionalReviewers []int64    `json:"additional_reviewers,omitempty"`
	ReviewClaimedBy     *int64     `json:"review_claimed_by,omitempty"`
	ReviewClaimedAt     *time.Time `json:"review_claimed_at,omitempty"`
	MetaReviewedBy      *int64     `json:"meta_reviewed_by,omitempty"`
	MetaReviewedAt      *time.Time `json:"meta_reviewed_at,omitempty"`
}

func toTaskOut(t *models.Task) taskOut {
	r := t.Review
	return taskOut{
		ID:                  t.ID,
		ChallengeID:         t.ParentID,
		Name:                t.Name,
		BundleID:            t.BundleID,
		IsBundlePrimary:     t.IsBundlePrimary,
		ReviewStatus:        r.ReviewStatus.String(),
		MetaReviewStatus:    r.MetaReviewStatus.String(),
		ReviewRequestedBy:   r.ReviewRequestedBy,
		ReviewedBy:          r.ReviewedBy,
		ReviewedAt:          r.ReviewedAt,
		AdditionalReviewers: r.AdditionalReviewers,
		ReviewClaimedBy:     r.ReviewClaimedBy,
		ReviewClaimedAt:     r.ReviewClaimedAt,
		MetaReviewedBy:      r.MetaReviewedBy,
		MetaReviewedAt:      r.MetaReviewedAt,
	}
}

type historyOut struct {
	ID               string     `json:"id"`
	ReviewStatus     string     `json:"review_status"`
	MetaReviewStatus string     `json:"meta_review_status"`
	RequestedBy      *int64     `json:"requested_by,omitempty"`
	ReviewedBy       *int64     `json:"reviewed_by,omitempty"`
	MetaReviewedBy   *int64     `json:"meta_reviewed_by,omitempty"`
	Comment          string     `json:"comment,omitempty"`
	ReviewStartedAt  *time.Time `json:"review_started_at,omitempty"`
	ReviewedAt       time.Time  `json:"reviewed_at"`
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func taskResult(t *models.Task) (*mcp.CallToolResult, error) {
	return jsonResult(toTaskOut(t))
}

// errorResult renders workflow errors with a stable prefix per category.
func errorResult(action string, err error) *mcp.CallToolResult {
	var category string
	switch {
	case errors.Is(err, review.ErrNotFound):
		category = "not found"
	case errors.Is(err, review.ErrAuthorization):
		category = "not authorized"
	case errors.Is(err, review.ErrClaimConflict):
		category = "claim conflict"
	case errors.Is(err, review.ErrInvalidTransition):
		category = "invalid transition"
	default:
		category = "failed"
	}
	return mcp.NewToolResultError(fmt.Sprintf("%s %s: %v", action, category, err))
}

// ---------------------------------------------------------------------------
// Argument helpers
// ---------------------------------------------------------------------------

// resolveActor accepts a numeric user id or a user name.
func (s *Server) resolveActor(ctx context.Context, request mcp.CallToolRequest) (models.Actor, error) {
	ref, err := request.RequireString("actor")
	if err != nil {
		return models.Actor{}, errors.New("missing required parameter: actor")
	}
	var u *models.User
	if id, perr := strconv.ParseInt(ref, 10, 64); perr == nil {
		u, err = s.store.GetUser(ctx, id)
	} else {
		u, err = s.store.GetUserByName(ctx, ref)
	}
	if err != nil {
		return models.Actor{}, fmt.Errorf("unknown actor %q: %w", ref, err)
	}
	return u.Actor(), nil
}

func taskIDArg(request mcp.CallToolRequest) (int64, error) {
	id, err := request.RequireInt("task_id")
	if err != nil || id <= 0 {
		return 0, errors.New("missing required parameter: task_id")
	}
	return int64(id), nil
}

// actorAndTask reads the two arguments every write tool takes.
func (s *Server) actorAndTask(ctx context.Context, request mcp.CallToolRequest) (models.Actor, int64, *mcp.CallToolResult) {
	actor, err := s.resolveActor(ctx, request)
	if err != nil {
		return actor, 0, mcp.NewToolResultError(err.Error())
	}
	taskID, err := taskIDArg(request)
	if err != nil {
		return actor, 0, mcp.NewToolResultError(err.Error())
	}
	return actor, taskID, nil
}

// ---------------------------------------------------------------------------
// Tool definitions and handlers
// ---------------------------------------------------------------------------

// review_start
func (s *Server) startReviewTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("review_start",
		mcp.WithDescription("Claim a task for review. Claims the whole bundle when the task is bundled. Fails with a claim conflict if another reviewer holds it."),
		mcp.WithString("actor", mcp.Required(), mcp.Description("Reviewer user id or name")),
		mcp.WithNumber("task_id", mcp.Required(), mcp.Description("Task id")),
	)
	return tool, s.handleStartReview
}

func (s *Server) handleStartReview(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	actor, taskID, errRes := s.actorAndTask(ctx, request)
	if errRes != nil {
		return errRes, nil
	}
	task, err := s.workflow.StartReview(ctx, actor, taskID)
	if err != nil {
		return errorResult("start review", err), nil
	}
	return taskResult(task)
}

// review_cancel
func (s *Server) cancelReviewTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("review_cancel",
		mcp.WithDescription("Release a review claim without recording a decision."),
		mcp.WithString("actor", mcp.Required(), mcp.Description("Reviewer user id or name")),
		mcp.WithNumber("task_id", mcp.Required(), mcp.Description("Task id")),
	)
	return tool, s.handleCancelReview
}

func (s *Server) handleCancelReview(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	actor, taskID, errRes := s.actorAndTask(ctx, request)
	if errRes != nil {
		return errRes, nil
	}
	task, err := s.workflow.CancelReview(ctx, actor, taskID)
	if err != nil {
		return errorResult("cancel review", err), nil
	}
	return taskResult(task)
}

// review_set_status
func (s *Server) setStatusTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("review_set_status",
		mcp.WithDescription("Set a task's review status: requested, approved, approved_with_revisions, approved_with_fixes_after_revisions, rejected, assisted, disputed or unnecessary."),
		mcp.WithString("actor", mcp.Required(), mcp.Description("Acting user id or name")),
		mcp.WithNumber("task_id", mcp.Required(), mcp.Description("Task id (the primary task for bundles)")),
		mcp.WithString("status", mcp.Required(), mcp.Description("New review status")),
		mcp.WithString("comment", mcp.Description("Optional review comment")),
	)
	return tool, s.handleSetStatus
}

func (s *Server) handleSetStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	actor, taskID, errRes := s.actorAndTask(ctx, request)
	if errRes != nil {
		return errRes, nil
	}
	raw, err := request.RequireString("status")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: status"), nil
	}
	status, err := models.ParseReviewStatus(raw)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	task, err := s.workflow.SetReviewStatus(ctx, actor, taskID, status, request.GetString("comment", ""))
	if err != nil {
		return errorResult("set review status", err), nil
	}
	return taskResult(task)
}

// review_dispute
func (s *Server) disputeTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("review_dispute",
		mcp.WithDescription("Contest the current review of a task and send it back to the reviewer."),
		mcp.WithString("actor", mcp.Required(), mcp.Description("Mapper user id or name")),
		mcp.WithNumber("task_id", mcp.Required(), mcp.Description("Task id")),
		mcp.WithString("comment", mcp.Description("Why the review is disputed")),
	)
	return tool, s.handleDispute
}

func (s *Server) handleDispute(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	actor, taskID, errRes := s.actorAndTask(ctx, request)
	if errRes != nil {
		return errRes, nil
	}
	task, err := s.workflow.DisputeReview(ctx, actor, taskID, request.GetString("comment", ""))
	if err != nil {
		return errorResult("dispute review", err), nil
	}
	return taskResult(task)
}

// review_set_meta_status
func (s *Server) setMetaStatusTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("review_set_meta_status",
		mcp.WithDescription("Set a task's meta-review status: requested, approved, rejected, assisted or unnecessary."),
		mcp.WithString("actor", mcp.Required(), mcp.Description("Acting user id or name")),
		mcp.WithNumber("task_id", mcp.Required(), mcp.Description("Task id")),
		mcp.WithString("status", mcp.Required(), mcp.Description("New meta-review status")),
		mcp.WithString("comment", mcp.Description("Optional comment")),
	)
	return tool, s.handleSetMetaStatus
}

func (s *Server) handleSetMetaStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	actor, taskID, errRes := s.actorAndTask(ctx, request)
	if errRes != nil {
		return errRes, nil
	}
	raw, err := request.RequireString("status")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: status"), nil
	}
	meta := models.ParseMetaReviewStatus(raw)
	task, err := s.workflow.SetMetaReviewStatus(ctx, actor, taskID, meta, request.GetString("comment", ""))
	if err != nil {
		return errorResult("set meta-review status", err), nil
	}
	return taskResult(task)
}

// review_next
func (s *Server) nextTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("review_next",
		mcp.WithDescription("Find the next task in the review queue after cursor. With claim=true the task is claimed for the actor. Returns null when the queue is exhausted."),
		mcp.WithString("actor", mcp.Required(), mcp.Description("Reviewer user id or name")),
		mcp.WithString("review_type", mcp.Description("to_be_reviewed (default), reviewed_by_me, all_reviewed or meta_review")),
		mcp.WithNumber("challenge_id", mcp.Description("Restrict to one challenge")),
		mcp.WithNumber("cursor", mcp.Description("Last task id seen; 0 starts from the top")),
		mcp.WithString("sort", mcp.Description("id (default) or requested")),
		mcp.WithBoolean("descending", mcp.Description("Reverse the sort order")),
		mcp.WithBoolean("include_own", mcp.Description("Include tasks the actor requested")),
		mcp.WithBoolean("claim", mcp.Description("Claim the task that is found")),
	)
	return tool, s.handleNext
}

func (s *Server) handleNext(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	actor, err := s.resolveActor(ctx, request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	filter := store.QueueFilter{
		ReviewType:  store.ReviewType(request.GetString("review_type", string(store.ReviewTypeToBeReviewed))),
		ChallengeID: int64(request.GetInt("challenge_id", 0)),
		Sort:        store.QueueSort(request.GetString("sort", string(store.QueueSortID))),
		Descending:  request.GetBool("descending", false),
		IncludeOwn:  request.GetBool("include_own", false),
	}
	cursor := int64(request.GetInt("cursor", 0))

	var task *models.Task
	if request.GetBool("claim", false) {
		task, err = s.workflow.ClaimNext(ctx, actor, filter, cursor)
	} else {
		task, err = s.workflow.NextReviewable(ctx, actor, filter, cursor)
	}
	if err != nil {
		return errorResult("next task", err), nil
	}
	if task == nil {
		return mcp.NewToolResultText("null"), nil
	}
	return taskResult(task)
}

// review_show
func (s *Server) showTaskTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("review_show",
		mcp.WithDescription("Show a task's current review state."),
		mcp.WithNumber("task_id", mcp.Required(), mcp.Description("Task id")),
	)
	return tool, s.handleShowTask
}

func (s *Server) handleShowTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID, err := taskIDArg(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return errorResult("show task", err), nil
	}
	return taskResult(task)
}

// review_history
func (s *Server) historyTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("review_history",
		mcp.WithDescription("List a task's review history, newest first."),
		mcp.WithNumber("task_id", mcp.Required(), mcp.Description("Task id")),
	)
	return tool, s.handleHistory
}

func (s *Server) handleHistory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID, err := taskIDArg(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	entries, err := s.workflow.ReviewHistory(ctx, taskID)
	if err != nil {
		return errorResult("review history", err), nil
	}
	out := make([]historyOut, len(entries))
	for i, h := range entries {
		out[i] = historyOut{
			ID:               h.ID,
			ReviewStatus:     h.ReviewStatus.String(),
			MetaReviewStatus: h.MetaReviewStatus.String(),
			RequestedBy:      h.RequestedBy,
			ReviewedBy:       h.ReviewedBy,
			MetaReviewedBy:   h.MetaReviewedBy,
			Comment:          h.Comment,
			ReviewStartedAt:  h.ReviewStartedAt,
			ReviewedAt:       h.ReviewedAt,
		}
	}
	return jsonResult(out)
}
