package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Blank-Slate-Dev/drivlet-sub004/internal/journey"
)

// Problem represents an RFC7807 problem details response body. Journey
// failures add the stable code and the current/requested state.
type Problem struct {
	Type      string                  `json:"type"`
	Title     string                  `json:"title"`
	Status    int                     `json:"status"`
	Detail    string                  `json:"detail,omitempty"`
	Instance  string                  `json:"instance,omitempty"`
	Code      string                  `json:"code,omitempty"`
	Current   string                  `json:"current,omitempty"`
	Requested string                  `json:"requested,omitempty"`
	Existing  *journey.PendingPayment `json:"existing,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeProblem(w http.ResponseWriter, status int, title, detail, instance string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Problem{
		Type:     "about:blank",
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: instance,
	})
}

// statusFor maps a journey error to its HTTP status. A version conflict is
// 412 when the caller sent If-Match and 409 when it lost a race.
func statusFor(e *journey.Error, ifMatch bool) int {
	switch e.Kind {
	case journey.KindValidation:
		return http.StatusBadRequest
	case journey.KindForbidden:
		return http.StatusForbidden
	case journey.KindNotFound:
		return http.StatusNotFound
	case journey.KindCollaborator:
		return http.StatusBadGateway
	case journey.KindConflict:
		if ifMatch {
			return http.StatusPreconditionFailed
		}
		return http.StatusConflict
	case journey.KindPrecondition:
		switch e.Code {
		case journey.CodeBookingCancelled, journey.CodeLegAlreadyAssigned, journey.CodeLegAlreadyStarted,
			journey.CodeAlreadyPending, journey.CodeAlreadyPaid:
			return http.StatusConflict
		}
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

// writeActionError renders journey errors as problems with their code and
// state; anything else is a 500.
func (s *Server) writeActionError(w http.ResponseWriter, r *http.Request, err error) {
	var e *journey.Error
	if !errors.As(err, &e) {
		s.Log.Error("request failed", "path", r.URL.Path, "error", err)
		writeProblem(w, http.StatusInternalServerError, "Internal error", "", r.URL.Path)
		return
	}
	status := statusFor(e, r.Header.Get("If-Match") != "")
	detail := e.Message
	if e.Kind == journey.KindCollaborator && e.Err != nil {
		detail += ": " + e.Err.Error()
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Problem{
		Type:      "https://drivlet.dev/problems/" + string(e.Code),
		Title:     http.StatusText(status),
		Status:    status,
		Detail:    detail,
		Instance:  r.URL.Path,
		Code:      string(e.Code),
		Current:   e.Current,
		Requested: e.Requested,
		Existing:  e.Existing,
	})
}
