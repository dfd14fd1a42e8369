package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miladsoleymani/replymux/core"
)

func TestCollector(t *testing.T) {
	c := New(nil)

	c.MessageProcessed("queue_example", 20*time.Millisecond, nil)
	c.MessageProcessed("queue_example", 5*time.Millisecond, errors.New("boom"))
	c.InFlightChanged(3)
	c.MessageDiscarded("queue_example", "decode")
	c.ReplyObserved(core.ReplyPublished)
	c.ReplyObserved(core.ReplyPublished)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.processed.WithLabelValues("queue_example", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.processed.WithLabelValues("queue_example", "error")))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.inFlight))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.discarded.WithLabelValues("queue_example", "decode")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.replies.WithLabelValues("published")))
}

func TestCollector_Handler(t *testing.T) {
	c := New(nil)
	c.ReplyObserved(core.ReplyFailed)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `replymux_replies_total{outcome="failed"} 1`))
}
