// Package api implements HTTP handlers and helpers for the drivlet booking service.
package api

import (
	"net/http"
	"strings"

	"github.com/Blank-Slate-Dev/drivlet-sub004/internal/model"
)

// getActor resolves the caller.
// - If Authorization: Bearer is present, uses the configured verifier (dev/hmac/jwks).
// - In dev mode only, falls back to X-Role / X-Actor-Id headers.
func (s *Server) getActor(r *http.Request) (model.Actor, bool) {
	authz := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(authz), "bearer ") && s.Auth != nil {
		tok := strings.TrimSpace(authz[len("Bearer "):])
		pr, err := s.Auth.Verify(r.Context(), tok)
		if err != nil {
			s.Log.Debug("token rejected", "error", err)
			return model.Actor{}, false
		}
		return pr.Actor(), true
	}
	if s.Auth == nil || s.Auth.Mode != "dev" {
		return model.Actor{}, false
	}
	role := model.Role(strings.ToLower(r.Header.Get("X-Role")))
	id := r.Header.Get("X-Actor-Id")
	switch role {
	case model.RoleAdmin, model.RoleSystem:
	case model.RoleDriver:
		if id == "" {
			return model.Actor{}, false
		}
	case "":
		role = model.RoleAdmin
	default:
		return model.Actor{}, false
	}
	return model.Actor{ID: id, Role: role}, true
}

// requireActor writes a 401 problem when the caller cannot be identified.
func (s *Server) requireActor(w http.ResponseWriter, r *http.Request) (model.Actor, bool) {
	a, ok := s.getActor(r)
	if !ok {
		w.Header().Set("WWW-Authenticate", `Bearer realm="drivlet"`)
		writeProblem(w, http.StatusUnauthorized, "Unauthorized", "valid bearer token required", r.URL.Path)
	}
	return a, ok
}

func (s *Server) requireAdmin(w http.ResponseWriter, r *http.Request) (model.Actor, bool) {
	a, ok := s.requireActor(w, r)
	if !ok {
		return a, false
	}
	if a.Role != model.RoleAdmin {
		writeProblem(w, http.StatusForbidden, "Forbidden", "admin only", r.URL.Path)
		return a, false
	}
	return a, true
}
