package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/flulink/engine/internal/engine"
)

// dispatchRequest is the body of POST /api/agentrouter.
type dispatchRequest struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data"`
}

func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req dispatchRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeError(w, r, engine.Wrap(engine.KindInvalidRequest, err, "invalid json"))
		return
	}
	if req.Action == "" {
		s.writeError(w, r, engine.Errorf(engine.KindInvalidRequest, "action required"))
		return
	}
	s.serve(w, r, req.Action, req.Data)
}

// handleAction serves a per-agent route whose body is the action payload.
func (s *Server) handleAction(action string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := readBody(w, r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.serve(w, r, action, body)
	}
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request, action string, data json.RawMessage) {
	result, err := s.dispatch.Dispatch(r.Context(), action, data)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, engine.Errorf(engine.KindInvalidRequest, "request body exceeds %d bytes", tooLarge.Limit)
		}
		return nil, engine.Wrap(engine.KindInvalidRequest, err, "read body failed")
	}
	return body, nil
}

// statusFor maps an error kind to its HTTP status.
func statusFor(kind engine.Kind) int {
	switch kind {
	case engine.KindInvalidContent, engine.KindDimensionMismatch, engine.KindIncompleteUser,
		engine.KindMissingSeedVector, engine.KindInvalidRequest:
		return http.StatusBadRequest
	case engine.KindUnknownAction:
		return http.StatusNotFound
	case engine.KindUnavailable, engine.KindTransientBackend:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

type errorBody struct {
	Error struct {
		Kind    engine.Kind `json:"kind"`
		Message string      `json:"message"`
	} `json:"error"`
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var body errorBody
	var e *engine.Error
	if errors.As(err, &e) {
		body.Error.Kind = e.Kind
		body.Error.Message = e.Message
	} else {
		body.Error.Message = "internal server error"
	}
	status := statusFor(body.Error.Kind)
	if status >= http.StatusInternalServerError {
		s.logger.Warn("request failed",
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Error(err),
		)
	}
	writeJSON(w, status, body)
}
