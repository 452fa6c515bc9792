package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/hassdash/dashboard/internal/model"
	"github.com/hassdash/dashboard/internal/state"
)

const maxStateBody = 64 << 10

// handleListStates handles GET /api/states.
func (s *Server) handleListStates(w http.ResponseWriter, r *http.Request) {
	states, err := s.states.GetAll(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	if states == nil {
		states = []model.EntityState{}
	}
	writeJSON(w, http.StatusOK, states)
}

// handleGetState handles GET /api/states/{entity_id}.
func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	st, err := s.states.Get(r.Context(), r.PathValue("entity_id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// handleSetState handles POST /api/states/{entity_id}. The reply is the
// entity state after the change.
func (s *Server) handleSetState(w http.ResponseWriter, r *http.Request) {
	entityID := r.PathValue("entity_id")

	var change state.PartialState
	if err := decodeBody(w, r, maxStateBody, &change); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}

	if err := s.states.Set(r.Context(), entityID, change); err != nil {
		s.logger.Warn("state update failed", "entity_id", entityID, "error", err)
		writeErr(w, err)
		return
	}

	st, err := s.states.Get(r.Context(), entityID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// latestState holds the newest state for a stream. Callbacks run on the
// hub read goroutine and must not block, so intermediate states are
// overwritten rather than queued.
type latestState struct {
	mu      sync.Mutex
	st      model.EntityState
	pending bool
	notify  chan struct{}
}

func newLatestState() *latestState {
	return &latestState{notify: make(chan struct{}, 1)}
}

func (l *latestState) put(st model.EntityState) {
	l.mu.Lock()
	l.st = st
	l.pending = true
	l.mu.Unlock()

	select {
	case l.notify <- struct{}{}:
	default:
	}
}

func (l *latestState) take() (model.EntityState, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.pending {
		return model.EntityState{}, false
	}
	l.pending = false
	return l.st, true
}

// handleStream handles GET /api/states/{entity_id}/stream (Server-Sent
// Events). The current state is sent first, then every change.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	entityID := r.PathValue("entity_id")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "Streaming not supported", "")
		return
	}

	latest := newLatestState()
	handle, err := s.states.SubscribeToEntity(r.Context(), entityID, latest.put)
	if err != nil {
		writeErr(w, err)
		return
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), 5*time.Second)
		defer cancel()
		if err := s.states.UnsubscribeFromEntity(ctx, handle); err != nil {
			s.logger.Warn("release state stream", "entity_id", entityID, "error", err)
		}
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	s.logger.Debug("state stream opened", "entity_id", entityID)

	keepAlive := time.NewTicker(s.cfg.StreamKeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.streams.Done():
			fmt.Fprint(w, "event: close\ndata: {}\n\n")
			flusher.Flush()
			return
		case <-keepAlive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case <-latest.notify:
			st, ok := latest.take()
			if !ok {
				continue
			}
			data, err := json.Marshal(st)
			if err != nil {
				s.logger.Error("encode state", "entity_id", entityID, "error", err)
				continue
			}
			fmt.Fprintf(w, "event: state\ndata: %s\n\n", data)
			flusher.Flush()
		}
	}
}
