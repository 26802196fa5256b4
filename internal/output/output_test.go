package output

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/taskreview/internal/models"
)

func newTestUI() (*UI, *bytes.Buffer, *bytes.Buffer) {
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	return &UI{Out: out, ErrOut: errOut}, out, errOut
}

func TestInfo(t *testing.T) {
	u, out, _ := newTestUI()
	u.Info("hello %s", "world")
	assert.Contains(t, out.String(), "hello world")
}

func TestSuccess(t *testing.T) {
	u, out, _ := newTestUI()
	u.Success("done %d", 42)
	assert.Contains(t, out.String(), "done 42")
}

func TestWarning(t *testing.T) {
	u, _, errOut := newTestUI()
	u.Warning("careful %s", "now")
	assert.Contains(t, errOut.String(), "careful now")
}

func TestError(t *testing.T) {
	u, _, errOut := newTestUI()
	u.Error("failed %s", "badly")
	assert.Contains(t, errOut.String(), "failed badly")
}

func TestVerboseLog(t *testing.T) {
	u, out, _ := newTestUI()
	u.VerboseLog("detail %d", 1)
	assert.Empty(t, out.String())

	u.Verbose = true
	u.VerboseLog("detail %d", 1)
	assert.Contains(t, out.String(), "detail 1")
}

func TestDryRunMsg(t *testing.T) {
	u, _, errOut := newTestUI()
	u.DryRunMsg("would expire %d claims", 3)
	assert.Empty(t, errOut.String())

	u.DryRun = true
	u.DryRunMsg("would expire %d claims", 3)
	assert.Contains(t, errOut.String(), "[DRY-RUN]")
	assert.Contains(t, errOut.String(), "would expire 3 claims")
}

func TestStatusColor(t *testing.T) {
	color.NoColor = true
	defer func() { color.NoColor = false }()

	assert.Equal(t, "none", StatusColor(models.ReviewStatusNone))
	for _, st := range models.ReviewStatuses {
		assert.Equal(t, string(st), StatusColor(st))
	}
	assert.Equal(t, "none", MetaStatusColor(models.MetaReviewStatusNone))
	assert.Equal(t, "rejected", MetaStatusColor(models.MetaReviewStatusRejected))
}

func TestTaskTable(t *testing.T) {
	u, out, _ := newTestUI()
	tasks := []*models.Task{
		{ID: 41, ParentID: 7, Review: models.ReviewRecord{ReviewStatus: models.ReviewStatusRequested, ReviewRequestedBy: models.IDPtr(1)}},
		{ID: 42, ParentID: 7, Review: models.ReviewRecord{ReviewStatus: models.ReviewStatusApproved, ReviewedBy: models.IDPtr(10)}},
	}
	require.NoError(t, u.TaskTable(tasks))

	result := out.String()
	assert.Contains(t, result, "41")
	assert.Contains(t, result, "42")
	assert.Contains(t, result, "approved")
	assert.True(t, strings.Contains(result, "CLAIMED BY") || strings.Contains(result, "Claimed By"))
}

func TestHistoryTable(t *testing.T) {
	u, out, _ := newTestUI()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	started := at.Add(-3 * time.Minute)
	entries := []*models.ReviewHistoryEntry{
		{ReviewStatus: models.ReviewStatusApproved, ReviewedBy: models.IDPtr(10), ReviewStartedAt: &started, ReviewedAt: at, Comment: "nice"},
		{ReviewStatus: models.ReviewStatusRequested, ReviewedAt: at.Add(-time.Hour)},
	}
	require.NoError(t, u.HistoryTable(entries))

	result := out.String()
	assert.Contains(t, result, "3m0s")
	assert.Contains(t, result, "nice")
	assert.Contains(t, result, "requested")
}

func TestTask(t *testing.T) {
	u, out, _ := newTestUI()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	task := &models.Task{
		ID: 5, ParentID: 7, Name: "river banks", BundleID: models.IDPtr(2), IsBundlePrimary: true,
		Review: models.ReviewRecord{
			ReviewStatus:    models.ReviewStatusRequested,
			ReviewClaimedBy: models.IDPtr(10),
			ReviewClaimedAt: &at,
		},
	}
	u.Task(task)

	result := out.String()
	assert.Contains(t, result, "river banks")
	assert.Contains(t, result, "(primary)")
	assert.Contains(t, result, "Claimed by:    10")
}
