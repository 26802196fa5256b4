package mcp

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/taskreview/internal/models"
	"github.com/joescharf/taskreview/internal/review"
	"github.com/joescharf/taskreview/internal/store"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func newTestServer(t *testing.T) (*Server, store.Store) {
	t.Helper()
	ctx := context.Background()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(ctx))
	t.Cleanup(func() { s.Close() })

	require.NoError(t, s.CreateUser(ctx, &models.User{ID: 1, Name: "mapper"}))
	require.NoError(t, s.CreateUser(ctx, &models.User{ID: 10, Name: "rita", IsReviewer: true}))
	require.NoError(t, s.CreateUser(ctx, &models.User{ID: 11, Name: "omar", IsReviewer: true}))

	w := review.NewWorkflow(s, review.Config{QueueLimit: 1})
	return NewServer(s, w, "test"), s
}

func seedTask(t *testing.T, s store.Store) *models.Task {
	t.Helper()
	task := &models.Task{ParentID: 7, Name: "building footprints"}
	require.NoError(t, s.CreateTask(context.Background(), task))
	return task
}

func callToolReq(name string, args map[string]any) mcpgo.CallToolRequest {
	return mcpgo.CallToolRequest{
		Params: mcpgo.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

// resultText extracts the concatenated text from a CallToolResult.
func resultText(t *testing.T, result *mcpgo.CallToolResult) string {
	t.Helper()
	var b strings.Builder
	for _, c := range result.Content {
		tc, ok := c.(mcpgo.TextContent)
		if ok {
			b.WriteString(tc.Text)
		}
	}
	return b.String()
}

// resultJSON parses the text result as JSON into the provided target.
func resultJSON(t *testing.T, result *mcpgo.CallToolResult, target any) {
	t.Helper()
	text := resultText(t, result)
	err := json.Unmarshal([]byte(text), target)
	require.NoError(t, err, "failed to parse result JSON: %s", text)
}

func TestNewServer(t *testing.T) {
	srv, _ := newTestServer(t)
	require.NotNil(t, srv.MCPServer())
}

// ---------------------------------------------------------------------------
// Tests: review lifecycle
// ---------------------------------------------------------------------------

func TestReviewLifecycle(t *testing.T) {
	srv, s := newTestServer(t)
	ctx := context.Background()
	task := seedTask(t, s)

	result, err := srv.handleSetStatus(ctx, callToolReq("review_set_status", map[string]any{
		"actor": "mapper", "task_id": float64(task.ID), "status": "requested",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	result, err = srv.handleStartReview(ctx, callToolReq("review_start", map[string]any{
		"actor": "10", "task_id": float64(task.ID),
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))
	var out taskOut
	resultJSON(t, result, &out)
	require.NotNil(t, out.ReviewClaimedBy)
	assert.Equal(t, int64(10), *out.ReviewClaimedBy)

	result, err = srv.handleSetStatus(ctx, callToolReq("review_set_status", map[string]any{
		"actor": "rita", "task_id": float64(task.ID), "status": "approved", "comment": "looks good",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))
	out = taskOut{}
	resultJSON(t, result, &out)
	assert.Equal(t, "approved", out.ReviewStatus)
	assert.Nil(t, out.ReviewClaimedBy)

	result, err = srv.handleHistory(ctx, callToolReq("review_history", map[string]any{"task_id": float64(task.ID)}))
	require.NoError(t, err)
	var history []historyOut
	resultJSON(t, result, &history)
	require.Len(t, history, 2)
	assert.Equal(t, "approved", history[0].ReviewStatus)
	assert.Equal(t, "looks good", history[0].Comment)
	assert.Equal(t, "requested", history[1].ReviewStatus)
}

func TestStartReview_ClaimConflict(t *testing.T) {
	srv, s := newTestServer(t)
	ctx := context.Background()
	task := seedTask(t, s)
	_, err := srv.handleSetStatus(ctx, callToolReq("review_set_status", map[string]any{
		"actor": "mapper", "task_id": float64(task.ID), "status": "requested",
	}))
	require.NoError(t, err)

	_, err = srv.handleStartReview(ctx, callToolReq("review_start", map[string]any{"actor": "rita", "task_id": float64(task.ID)}))
	require.NoError(t, err)

	result, err := srv.handleStartReview(ctx, callToolReq("review_start", map[string]any{"actor": "omar", "task_id": float64(task.ID)}))
	require.NoError(t, err, "handler should not return Go error; should wrap in result")
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "claim conflict")
}

func TestSetStatus_Errors(t *testing.T) {
	srv, s := newTestServer(t)
	ctx := context.Background()
	task := seedTask(t, s)

	tests := []struct {
		name string
		args map[string]any
		want string
	}{
		{"missing actor", map[string]any{"task_id": float64(task.ID), "status": "approved"}, "missing required parameter: actor"},
		{"unknown actor", map[string]any{"actor": "nobody", "task_id": float64(task.ID), "status": "approved"}, "unknown actor"},
		{"missing task", map[string]any{"actor": "rita", "status": "approved"}, "missing required parameter: task_id"},
		{"bad status", map[string]any{"actor": "rita", "task_id": float64(task.ID), "status": "fine"}, "unknown review status"},
		{"not requested", map[string]any{"actor": "rita", "task_id": float64(task.ID), "status": "approved"}, "invalid transition"},
		{"not reviewer", map[string]any{"actor": "mapper", "task_id": float64(task.ID), "status": "approved"}, "not authorized"},
		{"no such task", map[string]any{"actor": "rita", "task_id": float64(999), "status": "approved"}, "not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := srv.handleSetStatus(ctx, callToolReq("review_set_status", tt.args))
			require.NoError(t, err)
			assert.True(t, result.IsError)
			assert.Contains(t, resultText(t, result), tt.want)
		})
	}
}

func TestDisputeAndMeta(t *testing.T) {
	srv, s := newTestServer(t)
	ctx := context.Background()
	task := seedTask(t, s)
	id := float64(task.ID)

	for _, args := range []map[string]any{
		{"actor": "mapper", "task_id": id, "status": "requested"},
		{"actor": "rita", "task_id": id, "status": "rejected"},
	} {
		result, err := srv.handleSetStatus(ctx, callToolReq("review_set_status", args))
		require.NoError(t, err)
		require.False(t, result.IsError, resultText(t, result))
	}

	result, err := srv.handleSetMetaStatus(ctx, callToolReq("review_set_meta_status", map[string]any{
		"actor": "omar", "task_id": id, "status": "approved",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))
	var out taskOut
	resultJSON(t, result, &out)
	assert.Equal(t, "approved", out.MetaReviewStatus)

	result, err = srv.handleDispute(ctx, callToolReq("review_dispute", map[string]any{
		"actor": "mapper", "task_id": id, "comment": "the road is there",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))
	out = taskOut{}
	resultJSON(t, result, &out)
	assert.Equal(t, "requested", out.ReviewStatus)

	result, err = srv.handleSetMetaStatus(ctx, callToolReq("review_set_meta_status", map[string]any{
		"actor": "omar", "task_id": id, "status": "bogus",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "not valid for meta-review")
}

// ---------------------------------------------------------------------------
// Tests: queue
// ---------------------------------------------------------------------------

func TestNext(t *testing.T) {
	srv, s := newTestServer(t)
	ctx := context.Background()

	first := seedTask(t, s)
	second := seedTask(t, s)
	for _, task := range []*models.Task{first, second} {
		_, err := srv.handleSetStatus(ctx, callToolReq("review_set_status", map[string]any{
			"actor": "mapper", "task_id": float64(task.ID), "status": "requested",
		}))
		require.NoError(t, err)
	}

	result, err := srv.handleNext(ctx, callToolReq("review_next", map[string]any{"actor": "rita"}))
	require.NoError(t, err)
	var out taskOut
	resultJSON(t, result, &out)
	assert.Equal(t, first.ID, out.ID)
	assert.Nil(t, out.ReviewClaimedBy)

	result, err = srv.handleNext(ctx, callToolReq("review_next", map[string]any{"actor": "omar", "claim": true}))
	require.NoError(t, err)
	out = taskOut{}
	resultJSON(t, result, &out)
	assert.Equal(t, first.ID, out.ID)
	require.NotNil(t, out.ReviewClaimedBy)

	// rita now skips the task omar holds.
	result, err = srv.handleNext(ctx, callToolReq("review_next", map[string]any{"actor": "rita"}))
	require.NoError(t, err)
	out = taskOut{}
	resultJSON(t, result, &out)
	assert.Equal(t, second.ID, out.ID)

	result, err = srv.handleNext(ctx, callToolReq("review_next", map[string]any{"actor": "rita", "cursor": float64(second.ID)}))
	require.NoError(t, err)
	assert.Equal(t, "null", resultText(t, result))
}

func TestShowTask(t *testing.T) {
	srv, s := newTestServer(t)
	task := seedTask(t, s)

	result, err := srv.handleShowTask(context.Background(), callToolReq("review_show", map[string]any{"task_id": float64(task.ID)}))
	require.NoError(t, err)
	var out taskOut
	resultJSON(t, result, &out)
	assert.Equal(t, "none", out.ReviewStatus)
	assert.Equal(t, int64(7), out.ChallengeID)

	result, err = srv.handleShowTask(context.Background(), callToolReq("review_show", map[string]any{"task_id": float64(404)}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}
