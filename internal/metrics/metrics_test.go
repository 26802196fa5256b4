package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder_Counters(t *testing.T) {
	r := New()

	r.Transition("review", "approved")
	r.Transition("review", "approved")
	r.Transition("meta", "rejected")
	r.ClaimConflict()
	r.ClaimsExpired(3)
	r.ClaimsExpired(2)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.transitions.WithLabelValues("review", "approved")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.transitions.WithLabelValues("meta", "rejected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.claimConflicts))
	assert.Equal(t, 5.0, testutil.ToFloat64(r.claimsExpired))
}

func TestRecorder_ClaimDuration(t *testing.T) {
	r := New()
	r.ClaimDuration(90 * time.Second)

	expected := `
# HELP taskreview_claim_duration_seconds Time between claiming a task and recording a decision.
# TYPE taskreview_claim_duration_seconds histogram
taskreview_claim_duration_seconds_bucket{le="30"} 0
taskreview_claim_duration_seconds_bucket{le="60"} 0
taskreview_claim_duration_seconds_bucket{le="120"} 1
taskreview_claim_duration_seconds_bucket{le="300"} 1
taskreview_claim_duration_seconds_bucket{le="600"} 1
taskreview_claim_duration_seconds_bucket{le="1800"} 1
taskreview_claim_duration_seconds_bucket{le="3600"} 1
taskreview_claim_duration_seconds_bucket{le="14400"} 1
taskreview_claim_duration_seconds_bucket{le="86400"} 1
taskreview_claim_duration_seconds_bucket{le="+Inf"} 1
taskreview_claim_duration_seconds_sum 90
taskreview_claim_duration_seconds_count 1
`
	err := testutil.GatherAndCompare(r.Registry(), strings.NewReader(expected), "taskreview_claim_duration_seconds")
	require.NoError(t, err)
}

func TestRecorder_Handler(t *testing.T) {
	r := New()
	r.Transition("review", "requested")

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, string(body), `taskreview_transitions_total{kind="review",status="requested"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
