package metrics

import (
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordLikeToggle(t *testing.T) {
	likeBefore := testutil.ToFloat64(LikeToggles.WithLabelValues("like"))
	unlikeBefore := testutil.ToFloat64(LikeToggles.WithLabelValues("unlike"))

	RecordLikeToggle(true)
	RecordLikeToggle(false)
	RecordLikeToggle(true)

	assert.Equal(t, likeBefore+2, testutil.ToFloat64(LikeToggles.WithLabelValues("like")))
	assert.Equal(t, unlikeBefore+1, testutil.ToFloat64(LikeToggles.WithLabelValues("unlike")))
}

func TestRecordFeed(t *testing.T) {
	before := testutil.ToFloat64(FeedRequests.WithLabelValues("anonymous"))
	RecordFeed(false, 3)
	assert.Equal(t, before+1, testutil.ToFloat64(FeedRequests.WithLabelValues("anonymous")))
}

func TestObserveHTTPRequestUnmatchedRoute(t *testing.T) {
	ObserveHTTPRequest(http.MethodGet, "", http.StatusNotFound, 5*time.Millisecond)
	assert.Equal(t, 1, testutil.CollectAndCount(HTTPRequestDuration, "newspaper_http_request_duration_seconds"))
}
