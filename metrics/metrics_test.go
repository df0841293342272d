package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestGaugesReflectSetValues(t *testing.T) {
	m := New()
	m.QueueDepth.Set(3)
	m.LivePeers.Set(2)
	m.ResolverBacklog.Set(5)

	require.Equal(t, float64(3), testutil.ToFloat64(m.QueueDepth))
	require.Equal(t, float64(2), testutil.ToFloat64(m.LivePeers))
	require.Equal(t, float64(5), testutil.ToFloat64(m.ResolverBacklog))
}

func TestMessageCountersTrackOriginSeparately(t *testing.T) {
	m := New()
	m.OwnMessageAppended()
	m.OwnMessageAppended()
	m.RemoteMessagesAppended(5)
	m.FilesResolved.Inc()

	require.Equal(t, float64(2), testutil.ToFloat64(m.MessagesTotal.WithLabelValues("own")))
	require.Equal(t, float64(5), testutil.ToFloat64(m.MessagesTotal.WithLabelValues("remote")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.FilesResolved))
}

func TestHandlerServesRegisteredMetrics(t *testing.T) {
	m := New()
	m.LivePeers.Set(1)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	m.Handler().ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), "chatnode_live_peers 1")
}
