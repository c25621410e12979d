package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersExposed(t *testing.T) {
	DetectionsTotal.WithLabelValues("High Volume Attack").Add(2)
	assert.Equal(t, float64(2), testutil.ToFloat64(DetectionsTotal.WithLabelValues("High Volume Attack")))

	StoredAlerts.Set(42)
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "siem_stored_alerts 42")
	assert.Contains(t, string(body), `siem_detections_total{attack_type="High Volume Attack"} 2`)
}
