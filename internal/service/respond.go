package service

import (
	"encoding/json"
	"net/http"

	"github.com/InsulaLabs/fleet/models"
)

const maxBodySize = 1 * 1024 * 1024 // 1MB limit for any request body

func httpStatusFor(code models.StatusCode) int {
	switch code {
	case models.StatusOK:
		return http.StatusOK
	case models.StatusNotFound:
		return http.StatusNotFound
	case models.StatusBadRequest:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Service) writeJSON(w http.ResponseWriter, r *http.Request, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.requestLogger(r).Error("Could not encode response", "error", err)
	}
}

func (s *Service) writeErrorResponse(w http.ResponseWriter, status int, errorType, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(models.ErrorResponse{
		ErrorType: errorType,
		Message:   message,
	})
}

// writeError maps a registry or coordinator error onto its HTTP status. The
// cause of internal errors is logged, not returned.
func (s *Service) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := models.StatusFor(err)
	status := httpStatusFor(code)
	message := err.Error()
	if code == models.StatusInternalError {
		s.requestLogger(r).Error("Request failed", "error", err)
		message = http.StatusText(http.StatusInternalServerError)
	}
	s.writeErrorResponse(w, status, string(code), message)
}

// decodeBody reads a capped JSON body into v. It writes the 400 itself and
// returns false when the body is unusable.
func (s *Service) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.requestLogger(r).Debug("Invalid request body", "error", err)
		s.writeErrorResponse(w, http.StatusBadRequest, string(models.StatusBadRequest), "Invalid JSON payload: "+err.Error())
		return false
	}
	return true
}

func (s *Service) writeResult(w http.ResponseWriter, r *http.Request, outcome models.Outcome, record *models.FileRecord, withLockCount bool) {
	rsp := models.OpResponse{
		Outcome: outcome,
		Message: outcome.Message(),
		Record:  record,
	}
	if withLockCount {
		lockCount := 0
		if record != nil {
			lockCount = record.LockCount
		}
		rsp.LockCount = &lockCount
	}
	s.writeJSON(w, r, http.StatusOK, rsp)
}
