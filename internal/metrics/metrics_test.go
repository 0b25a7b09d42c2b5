package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New()
	m.Transition("Started")
	m.Transition("Started")
	m.Notification(ChannelEmail, OutcomeSkipped)
	m.Sequence(nil)
	m.Sequence(errors.New("down"))

	require.Equal(t, 2.0, testutil.ToFloat64(m.transitions.WithLabelValues("Started")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.notifications.WithLabelValues(ChannelEmail, OutcomeSkipped)))
	require.Equal(t, 1.0, testutil.ToFloat64(m.sequence.WithLabelValues(OutcomeError)))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	require.Contains(t, string(body), "wo_transitions_total")
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Transition("Done")
	m.Notification(ChannelPushFCM, OutcomeOK)
	m.Sequence(nil)
}
