package metrics

import (
    "net/http"
    "net/http/httptest"
    "strings"
    "testing"

    "github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInstrumentLabelsRoute(t *testing.T) {
    RegisterDefault()
    h := Instrument("/v1/bookings/{id}", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        w.WriteHeader(http.StatusNotFound)
    }))
    before := testutil.ToFloat64(HTTPRequests.WithLabelValues("GET", "/v1/bookings/{id}", "404"))
    h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/v1/bookings/b-123", nil))
    after := testutil.ToFloat64(HTTPRequests.WithLabelValues("GET", "/v1/bookings/{id}", "404"))
    if after-before != 1 {
        t.Fatalf("counter delta = %v", after-before)
    }
}

func TestHandlerExposesActions(t *testing.T) {
    RegisterDefault()
    ObserveAction("assignLeg", "LEG_ALREADY_ASSIGNED", 0)
    rr := httptest.NewRecorder()
    Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))
    if !strings.Contains(rr.Body.String(), `booking_actions_total{action="assignLeg",outcome="LEG_ALREADY_ASSIGNED"}`) {
        t.Fatalf("metric missing from exposition")
    }
}
