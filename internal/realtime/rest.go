package realtime

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/agnivade/levenshtein"
	"github.com/dustin/go-humanize"

	"surfacehost/internal/protocol"
	"surfacehost/internal/service"
	"surfacehost/internal/surface"
)

// maxSuggestionDistance bounds how far a mistyped surface name may be from a
// live one before no suggestion is offered.
const maxSuggestionDistance = 3

type errorResponse struct {
	Error      string `json:"error"`
	Code       string `json:"code"`
	Suggestion string `json:"suggestion,omitempty"`
}

type writeSurfaceRequest struct {
	Kind string `json:"kind"`
	Data string `json:"data"`
}

type createServiceRequest struct {
	WorkDir string `json:"workDir"`
	Label   string `json:"label"`
}

type sendInputRequest struct {
	Text string `json:"text"`
}

// serviceResponse adds a readable output size to a service snapshot.
type serviceResponse struct {
	service.Service
	OutputSize string `json:"outputSize"`
}

func newServiceResponse(svc service.Service) serviceResponse {
	return serviceResponse{Service: svc, OutputSize: humanize.Bytes(uint64(svc.OutputBytes))}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: message, Code: code})
}

// surfaceStatus maps a surface error to its HTTP status.
func surfaceStatus(err error) int {
	switch {
	case errors.Is(err, surface.ErrInvalidName):
		return http.StatusBadRequest
	case errors.Is(err, surface.ErrKindMismatch), errors.Is(err, surface.ErrAlreadyAttached),
		errors.Is(err, surface.ErrInvalidStateTransition):
		return http.StatusConflict
	case errors.Is(err, surface.ErrChannelClosed):
		return http.StatusGone
	case errors.Is(err, surface.ErrSurfaceUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// serviceError maps a service manager error to its HTTP status and code.
func serviceError(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound, protocol.ErrServiceNotFound
	case errors.Is(err, service.ErrLimitReached):
		return http.StatusTooManyRequests, protocol.ErrMaxServices
	case errors.Is(err, service.ErrInvalidWorkDir):
		return http.StatusBadRequest, protocol.ErrInvalidMessage
	case errors.Is(err, service.ErrExited):
		return http.StatusConflict, protocol.ErrChannelClosed
	case errors.Is(err, service.ErrSurfaceInUse):
		return http.StatusConflict, protocol.ErrAlreadyAttached
	}
	return http.StatusInternalServerError, protocol.ErrSpawnFailed
}

// suggest returns the live surface name closest to name, if any is close.
func (s *Server) suggest(name string) string {
	best, bestDist := "", maxSuggestionDistance+1
	for _, info := range s.reg.Snapshot() {
		if d := levenshtein.ComputeDistance(name, info.Name); d < bestDist {
			best, bestDist = info.Name, d
		}
	}
	return best
}

func (s *Server) surfaceNotFound(w http.ResponseWriter, name string) {
	writeJSON(w, http.StatusNotFound, errorResponse{
		Error:      "surface not found: " + name,
		Code:       protocol.ErrSurfaceNotFound,
		Suggestion: s.suggest(name),
	})
}

func (s *Server) handleListSurfaces(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.reg.Snapshot())
}

func (s *Server) handleGetSurface(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	h, ok := s.reg.Lookup(name)
	if !ok {
		s.surfaceNotFound(w, name)
		return
	}
	writeJSON(w, http.StatusOK, h.Info())
}

func (s *Server) handleReleaseSurface(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	h, ok := s.reg.Lookup(name)
	if !ok {
		s.surfaceNotFound(w, name)
		return
	}
	s.reg.Release(h)
	writeJSON(w, http.StatusOK, map[string]string{"status": "released"})
}

func (s *Server) handleWriteSurface(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	var req writeSurfaceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, protocol.ErrInvalidMessage, "invalid request body")
		return
	}
	kind := surface.KindConsole
	if req.Kind != "" {
		k, err := surface.ParseKind(req.Kind)
		if err != nil {
			writeError(w, http.StatusBadRequest, protocol.ErrInvalidMessage, err.Error())
			return
		}
		kind = k
	}

	// Settle detaches first so a surface closed since the last write is
	// resolved afresh.
	s.runtime.Pump()
	if err := s.runtime.Write(name, kind, []byte(req.Data)); err != nil {
		writeError(w, surfaceStatus(err), protocol.CodeFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (s *Server) handleCreateService(w http.ResponseWriter, r *http.Request) {
	var req createServiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, protocol.ErrInvalidMessage, "invalid request body")
		return
	}
	if req.WorkDir == "" {
		writeError(w, http.StatusBadRequest, protocol.ErrInvalidMessage, "workDir is required")
		return
	}

	svc, err := s.services.Create(req.WorkDir, req.Label)
	if err != nil {
		status, code := serviceError(err)
		writeError(w, status, code, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, newServiceResponse(svc))
}

func (s *Server) handleListServices(w http.ResponseWriter, r *http.Request) {
	services := s.services.List()
	result := make([]serviceResponse, 0, len(services))
	for _, svc := range services {
		result = append(result, newServiceResponse(svc))
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetService(w http.ResponseWriter, r *http.Request) {
	svc, err := s.services.Get(r.PathValue("id"))
	if err != nil {
		status, code := serviceError(err)
		writeError(w, status, code, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, newServiceResponse(svc))
}

func (s *Server) handleServiceOutput(w http.ResponseWriter, r *http.Request) {
	tail := 0
	if v := r.URL.Query().Get("tail"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, protocol.ErrInvalidMessage, "tail must be a non-negative number")
			return
		}
		tail = n
	}

	lines, err := s.services.History(r.PathValue("id"), tail)
	if err != nil {
		status, code := serviceError(err)
		writeError(w, status, code, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, lines)
}

func (s *Server) handleServiceInput(w http.ResponseWriter, r *http.Request) {
	var req sendInputRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, protocol.ErrInvalidMessage, "invalid request body")
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, protocol.ErrInvalidMessage, "text is required")
		return
	}

	if err := s.services.SendInput(r.PathValue("id"), req.Text); err != nil {
		status, code := serviceError(err)
		writeError(w, status, code, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}

func (s *Server) handleKillService(w http.ResponseWriter, r *http.Request) {
	if err := s.services.Kill(r.PathValue("id")); err != nil {
		status, code := serviceError(err)
		writeError(w, status, code, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "terminated"})
}
