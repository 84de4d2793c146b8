package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sitedesk/sitedesk/internal/assets"
	siteerrors "github.com/sitedesk/sitedesk/internal/errors"
	"github.com/sitedesk/sitedesk/internal/supervisor"
	"github.com/sitedesk/sitedesk/internal/transform"
	"github.com/sitedesk/sitedesk/internal/version"
)

const maxBodyBytes = 64 << 10

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
	Code  string `json:"code,omitempty"`
}

// TransformBody is the POST /api/transform payload.
type TransformBody struct {
	transform.Request
	KeepRatio bool `json:"keep_ratio,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps an error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, supervisor.ErrAlreadyRunning), errors.Is(err, supervisor.ErrStartInProgress):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	switch siteerrors.KindOf(err) {
	case siteerrors.KindNotFound:
		return http.StatusNotFound
	case siteerrors.KindInvalidBounds, siteerrors.KindConfig:
		return http.StatusBadRequest
	case siteerrors.KindUnsupportedFormat:
		return http.StatusUnsupportedMediaType
	case siteerrors.KindDecodeFailed:
		return http.StatusUnprocessableEntity
	case siteerrors.KindUnsupported:
		return http.StatusConflict
	case siteerrors.KindProcessSpawnFailed, siteerrors.KindUnreachable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	resp := ErrorResponse{Error: siteerrors.Describe(err)}
	var se *siteerrors.SiteError
	if errors.As(err, &se) {
		resp.Kind = string(se.Kind)
		resp.Code = se.Code
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error(r.Context(), err, "Request failed", "path", r.URL.Path, "status", status)
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, version.Get())
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.Status())
}

func (s *Server) handleAssets(w http.ResponseWriter, r *http.Request) {
	names, err := s.ctrl.Assets()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if r.URL.Query().Get("detail") == "" {
		writeJSON(w, http.StatusOK, names)
		return
	}

	details := make([]assets.Asset, 0, len(names))
	for _, name := range names {
		info, err := s.ctrl.Inspect(name)
		if err != nil {
			// One unreadable file must not hide the rest.
			s.logger.Warn(r.Context(), err, "Skipping unreadable asset", "asset", name)
			continue
		}
		details = append(details, info)
	}
	writeJSON(w, http.StatusOK, details)
}

func (s *Server) handleAsset(w http.ResponseWriter, r *http.Request) {
	info, err := s.ctrl.Inspect(r.PathValue("name"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleTransform(w http.ResponseWriter, r *http.Request) {
	var body TransformBody
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		s.writeError(w, r, siteerrors.NewConfigError("REQUEST_BODY", "malformed transform request: "+err.Error()))
		return
	}

	op, err := transform.ParseOperation(string(body.Operation))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	body.Operation = op

	res, err := s.ctrl.Transform(r.Context(), body.Request, body.KeepRatio)
	if err != nil {
		writeJSON(w, statusFor(err), res)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handleServerStart(w http.ResponseWriter, r *http.Request) {
	mode := supervisor.ModeNone
	if m := r.URL.Query().Get("mode"); m != "" {
		parsed, err := supervisor.ParseMode(m)
		if err != nil {
			s.writeError(w, r, siteerrors.NewConfigError("START_MODE", err.Error()))
			return
		}
		mode = parsed
	}
	if err := s.ctrl.StartServer(r.Context(), mode); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, s.ctrl.Status())
}

func (s *Server) handleServerStop(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.StopServer(r.Context()); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.ctrl.Status())
}
