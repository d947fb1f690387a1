package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Blank-Slate-Dev/drivlet-sub004/internal/actions"
	"github.com/Blank-Slate-Dev/drivlet-sub004/internal/journey"
	"github.com/Blank-Slate-Dev/drivlet-sub004/internal/model"
	"github.com/Blank-Slate-Dev/drivlet-sub004/internal/notify"
	"github.com/Blank-Slate-Dev/drivlet-sub004/internal/store"
)

// BookingsHandler handles GET/POST /v1/bookings.
func (s *Server) BookingsHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/bookings" {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	actor, ok := s.requireActor(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodPost:
		var req model.BookingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		if err := validateBookingRequest(&req); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid booking", err.Error(), r.URL.Path)
			return
		}
		b, err := s.Router.Create(r.Context(), actor, req)
		if err != nil {
			s.writeActionError(w, r, err)
			return
		}
		w.Header().Set("Location", "/v1/bookings/"+b.ID)
		writeBooking(w, http.StatusCreated, b)
	case http.MethodGet:
		q := r.URL.Query()
		f := model.BookingFilter{
			Status:   model.Status(q.Get("status")),
			Stage:    model.Stage(q.Get("stage")),
			DriverID: q.Get("driverId"),
			OpenLeg:  model.LegRole(q.Get("open")),
		}
		if f.OpenLeg != "" && !journey.ValidLeg(f.OpenLeg) {
			writeProblem(w, http.StatusBadRequest, "Invalid filter", "open must be pickup or return", r.URL.Path)
			return
		}
		switch actor.Role {
		case model.RoleAdmin, model.RoleSystem:
		case model.RoleDriver:
			// drivers see their own jobs, or the open board
			if f.OpenLeg == "" {
				f.DriverID = actor.ID
			} else {
				f.DriverID = ""
			}
		default:
			writeProblem(w, http.StatusForbidden, "Forbidden", "", r.URL.Path)
			return
		}
		limit := 100
		if v := q.Get("limit"); v != "" {
			fmt.Sscanf(v, "%d", &limit)
		}
		items, next, err := s.Bookings.ListBookings(r.Context(), f, q.Get("cursor"), limit)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "List bookings failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// BookingByIDHandler handles /v1/bookings/{id} and its action, location and
// stream sub-resources.
func (s *Server) BookingByIDHandler(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/bookings/")
	if rest == r.URL.Path || rest == "" {
		writeProblem(w, http.StatusNotFound, "Not Found", "missing id", r.URL.Path)
		return
	}
	parts := strings.Split(strings.TrimSuffix(rest, "/"), "/")
	id := parts[0]
	sub := strings.Join(parts[1:], "/")

	actor, ok := s.requireActor(w, r)
	if !ok {
		return
	}

	switch {
	case sub == "":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		s.getBooking(w, r, actor, id)
		return
	case sub == "events/stream":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		s.streamBooking(w, r, actor, id)
		return
	case sub == "location":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		s.postLocation(w, r, actor, id)
		return
	case sub == "location/latest":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		b, err := s.Bookings.GetBooking(r.Context(), id)
		if err != nil || !actions.CanView(actor, &b) {
			writeProblem(w, http.StatusNotFound, "Booking not found", "", r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": s.Locations.ListByBooking(id)})
		return
	}

	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	action, err := decodeAction(r, actor, parts[1:])
	if err != nil {
		if errors.Is(err, errUnknownRoute) {
			writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
			return
		}
		writeProblem(w, http.StatusBadRequest, "Invalid request", err.Error(), r.URL.Path)
		return
	}
	ifVersion, err := parseIfMatch(r.Header.Get("If-Match"))
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid If-Match", err.Error(), r.URL.Path)
		return
	}
	b, err := s.Router.Execute(r.Context(), actions.Request{BookingID: id, Actor: actor, Action: action, IfVersion: ifVersion})
	if err != nil {
		s.writeActionError(w, r, err)
		return
	}
	if b.Cancellation != nil || b.CurrentStage == model.StageDelivered {
		s.Locations.Forget(b.ID)
	}
	writeBooking(w, http.StatusOK, b)
}

func (s *Server) getBooking(w http.ResponseWriter, r *http.Request, actor model.Actor, id string) {
	b, err := s.Bookings.GetBooking(r.Context(), id)
	if err != nil {
		s.writeActionError(w, r, lookupError(err, id))
		return
	}
	if !actions.CanView(actor, &b) {
		writeProblem(w, http.StatusForbidden, "Forbidden", "not authorized for this booking", r.URL.Path)
		return
	}
	writeBooking(w, http.StatusOK, b)
}

var errUnknownRoute = errors.New("unknown route")

type stageBody struct {
	Stage           model.Stage `json:"stage"`
	Message         string      `json:"message"`
	AllowRegression bool        `json:"allowRegression"`
}

type statusBody struct {
	Status  model.Status `json:"status"`
	Message string       `json:"message"`
}

// decodeAction maps the action sub-path and body onto an Action.
func decodeAction(r *http.Request, actor model.Actor, path []string) (actions.Action, error) {
	switch {
	case len(path) == 1 && path[0] == "stage":
		var in stageBody
		if err := decodeBody(r, &in); err != nil {
			return nil, err
		}
		return actions.EditStage{Stage: in.Stage, Message: in.Message, AllowRegression: in.AllowRegression}, nil
	case len(path) == 1 && path[0] == "status":
		var in statusBody
		if err := decodeBody(r, &in); err != nil {
			return nil, err
		}
		return actions.EditStatus{Status: in.Status, Message: in.Message}, nil
	case len(path) == 1 && path[0] == "payment":
		var in struct {
			AmountMinor int64 `json:"amountMinor"`
		}
		if err := decodeBody(r, &in); err != nil {
			return nil, err
		}
		return actions.RequestPayment{AmountMinor: in.AmountMinor}, nil
	case len(path) == 2 && path[0] == "payment" && path[1] == "paid":
		var in struct {
			RequestID string `json:"requestId"`
		}
		if err := decodeBody(r, &in); err != nil {
			return nil, err
		}
		return actions.MarkPaid{RequestID: in.RequestID}, nil
	case len(path) == 1 && path[0] == "cancel":
		var in struct {
			Reason string `json:"reason"`
		}
		if err := decodeBody(r, &in); err != nil {
			return nil, err
		}
		return actions.Cancel{Reason: in.Reason}, nil
	case len(path) == 3 && path[0] == "legs":
		leg := model.LegRole(path[1])
		switch path[2] {
		case "assign":
			var in struct {
				DriverID string `json:"driverId"`
			}
			if err := decodeBody(r, &in); err != nil {
				return nil, err
			}
			if in.DriverID == "" && actor.Role == model.RoleDriver {
				in.DriverID = actor.ID
			}
			return actions.AssignLeg{Leg: leg, DriverID: in.DriverID}, nil
		case "unassign":
			return actions.UnassignLeg{Leg: leg}, nil
		case "events":
			var in struct {
				Event model.LegEvent `json:"event"`
			}
			if err := decodeBody(r, &in); err != nil {
				return nil, err
			}
			return actions.AdvanceLeg{Leg: leg, Event: in.Event}, nil
		}
	}
	return nil, errUnknownRoute
}

// decodeBody accepts an empty body as the zero value.
func decodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

// parseIfMatch reads a version from If-Match, accepting quoted and weak
// forms. Empty means no precondition.
func parseIfMatch(h string) (int, error) {
	h = strings.TrimSpace(h)
	if h == "" || h == "*" {
		return 0, nil
	}
	h = strings.Trim(strings.TrimPrefix(h, "W/"), `"`)
	v, err := strconv.Atoi(h)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("expected a booking version, got %q", h)
	}
	return v, nil
}

func writeBooking(w http.ResponseWriter, status int, b model.Booking) {
	w.Header().Set("ETag", strconv.Quote(strconv.Itoa(b.Version)))
	writeJSON(w, status, b)
}

func lookupError(err error, id string) error {
	if errors.Is(err, store.ErrNotFound) {
		return journey.Withf(journey.ErrBookingNotFound, "booking %s not found", id)
	}
	return err
}

type locationBody struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// postLocation caches a driver's position and broadcasts it to live
// listeners. Only the driver on an active leg may report.
func (s *Server) postLocation(w http.ResponseWriter, r *http.Request, actor model.Actor, id string) {
	var in locationBody
	if err := decodeBody(r, &in); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	if in.Lat < -90 || in.Lat > 90 || in.Lng < -180 || in.Lng > 180 {
		writeProblem(w, http.StatusBadRequest, "Invalid location", "lat/lng out of range", r.URL.Path)
		return
	}
	b, err := s.Bookings.GetBooking(r.Context(), id)
	if err != nil {
		s.writeActionError(w, r, lookupError(err, id))
		return
	}
	leg := activeLeg(&b, actor)
	if leg == "" {
		writeProblem(w, http.StatusForbidden, "Forbidden", "no active leg for this driver", r.URL.Path)
		return
	}
	now := time.Now().UTC()
	loc := LatestLocation{BookingID: id, DriverID: actor.ID, Leg: string(leg), Lat: in.Lat, Lng: in.Lng, TS: now.Format(time.RFC3339)}
	s.Locations.Upsert(loc)
	evt := notify.Event{
		ID:        "evt_loc_" + strconv.FormatInt(now.UnixNano(), 36),
		Type:      notify.DriverLocation,
		BookingID: id,
		Actor:     actor,
		Data:      map[string]any{"driverId": loc.DriverID, "leg": loc.Leg, "lat": loc.Lat, "lng": loc.Lng},
		TS:        now,
	}
	if err := s.Broker.Publish(r.Context(), id, evt); err != nil {
		s.Log.Warn("location broadcast failed", "bookingId", id, "error", err)
	}
	writeJSON(w, http.StatusAccepted, loc)
}

// activeLeg is the leg actor has started and not completed.
func activeLeg(b *model.Booking, actor model.Actor) model.LegRole {
	if actor.Role != model.RoleDriver || b.Cancellation != nil {
		return ""
	}
	for _, role := range []model.LegRole{model.LegPickup, model.LegReturn} {
		l := b.Leg(role)
		if l != nil && l.DriverID == actor.ID && l.StartedAt != nil && l.CompletedAt == nil {
			return role
		}
	}
	return ""
}

// streamBooking serves booking events as SSE until the client goes away.
func (s *Server) streamBooking(w http.ResponseWriter, r *http.Request, actor model.Actor, id string) {
	b, err := s.Bookings.GetBooking(r.Context(), id)
	if err != nil {
		s.writeActionError(w, r, lookupError(err, id))
		return
	}
	if !actions.CanView(actor, &b) {
		writeProblem(w, http.StatusForbidden, "Forbidden", "not authorized for booking events", r.URL.Path)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeProblem(w, http.StatusInternalServerError, "Streaming unsupported", "", r.URL.Path)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := s.Broker.Subscribe(id)
	defer s.Broker.Unsubscribe(id, ch)

	writeSSE(w, "booking.snapshot", b)
	flusher.Flush()
	done := r.Context().Done()
	for {
		select {
		case <-done:
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			writeSSE(w, evt.Type, evt)
			flusher.Flush()
		case <-time.After(15 * time.Second):
			writeSSE(w, "heartbeat", map[string]string{"bookingId": id, "ts": time.Now().UTC().Format(time.RFC3339)})
			flusher.Flush()
		}
	}
}

func writeSSE(w io.Writer, event string, v any) {
	b, _ := json.Marshal(v)
	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", b)
}
