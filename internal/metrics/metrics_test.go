package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareRecordsRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/api/predictions/{id}/settlement", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	before := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "/api/predictions/{id}/settlement", "418"))
	req := httptest.NewRequest(http.MethodGet, "/api/predictions/abc/settlement", nil)
	r.ServeHTTP(httptest.NewRecorder(), req)
	after := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "/api/predictions/{id}/settlement", "418"))

	require.Equal(t, before+1, after)
}

func TestRecordHelpers(t *testing.T) {
	before := testutil.ToFloat64(SettlementAttemptsTotal.WithLabelValues("confirmed"))
	RecordSettlement("confirmed", 2*time.Second)
	require.Equal(t, before+1, testutil.ToFloat64(SettlementAttemptsTotal.WithLabelValues("confirmed")))

	failed := testutil.ToFloat64(BackendNotifyTotal.WithLabelValues("error"))
	RecordNotify(errors.New("down"))
	require.Equal(t, failed+1, testutil.ToFloat64(BackendNotifyTotal.WithLabelValues("error")))
}
