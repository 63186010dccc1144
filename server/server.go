// Package server exposes the dispatcher over a synchronous HTTP surface.
// Handler failures are data in the response body, not transport errors: the
// call returns 200 with per-subscription outcomes whenever a dispatch pass
// ran, and non-200 only for request, auth, lookup and system errors.
package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/log"

	"github.com/ledgerlane/fanout"
)

// Dispatcher is the dispatch entry point consumed by the server.
type Dispatcher interface {
	Dispatch(ctx context.Context, eventID string, opts ...fanout.DispatchOption) (*fanout.DispatchResult, error)
}

// New returns a new server.
func New(d Dispatcher, auth *Authenticator) *Server {
	return &Server{
		dispatcher: d,
		auth:       auth,
	}
}

// Server serves the dispatch endpoint and a liveness probe.
type Server struct {
	dispatcher Dispatcher
	auth       *Authenticator
}

// Router returns the http handler for the server.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/dispatch", s.handleDispatch)
	mux.HandleFunc("/health", handleHealth)
	return mux
}

type dispatchRequest struct {
	EventID string `json:"event_id"`
}

type dispatchResponse struct {
	EventID string             `json:"event_id"`
	Status  string             `json:"status"`
	Message string             `json:"message,omitempty"`
	Results []deliveryResponse `json:"results"`
}

type deliveryResponse struct {
	SubscriptionID string `json:"subscription_id"`
	Status         string `json:"status"`
	Action         string `json:"action,omitempty"`
	Error          string `json:"error,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
		return
	}

	identity, err := s.auth.Authenticate(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthenticated"})
		return
	}

	var req dispatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.EventID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "missing event_id"})
		return
	}

	var opts []fanout.DispatchOption
	if !identity.System && identity.TenantID != "" {
		opts = append(opts, fanout.WithTenant(identity.TenantID))
	}

	res, err := s.dispatcher.Dispatch(r.Context(), req.EventID, opts...)
	if fanout.IsNotFoundErr(err) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "event not found"})
		return
	} else if err != nil {
		log.Error(r.Context(), errors.Wrap(err, "dispatch system error"))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}

	resp := dispatchResponse{
		EventID: res.EventID,
		Status:  res.Status.String(),
		Message: res.Message,
		Results: make([]deliveryResponse, 0, len(res.Results)),
	}
	for _, sr := range res.Results {
		resp.Results = append(resp.Results, deliveryResponse{
			SubscriptionID: sr.SubscriptionID,
			Status:         sr.Status.String(),
			Action:         string(sr.Action),
			Error:          sr.Error,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
