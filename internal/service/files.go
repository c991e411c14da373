package service

import (
	"net/http"

	"github.com/InsulaLabs/fleet/models"
)

func (s *Service) fileAssignHandler(w http.ResponseWriter, r *http.Request) {
	var payload models.FileNodePayload
	if !s.decodeBody(w, r, &payload) {
		return
	}

	res, err := s.files.Assign(payload.FileID, payload.NodeID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeResult(w, r, res.Outcome, res.Record, false)
}

// The node id on a completion is informational only.
func (s *Service) fileCompleteHandler(w http.ResponseWriter, r *http.Request) {
	var payload models.FileNodePayload
	if !s.decodeBody(w, r, &payload) {
		return
	}

	res, err := s.files.Complete(payload.FileID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.requestLogger(r).Debug("FileCompleteHandler",
		"file_id", payload.FileID,
		"node_id", payload.NodeID,
		"completed", res.Record.CompletedReplicas)
	s.writeResult(w, r, res.Outcome, res.Record, false)
}

func (s *Service) fileStatusHandler(w http.ResponseWriter, r *http.Request) {
	record, err := s.files.Status(r.Context(), r.PathValue("fileId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, record)
}

func (s *Service) fileListHandler(w http.ResponseWriter, r *http.Request) {
	records, err := s.files.All()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, models.FileListResponse{Data: records})
}

func (s *Service) fileLockHandler(w http.ResponseWriter, r *http.Request) {
	var payload models.FilePayload
	if !s.decodeBody(w, r, &payload) {
		return
	}

	res, err := s.files.Lock(payload.FileID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeResult(w, r, res.Outcome, res.Record, true)
}

func (s *Service) fileUnlockHandler(w http.ResponseWriter, r *http.Request) {
	var payload models.FilePayload
	if !s.decodeBody(w, r, &payload) {
		return
	}

	res, err := s.files.Unlock(payload.FileID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeResult(w, r, res.Outcome, res.Record, true)
}

func (s *Service) fileDeleteHandler(w http.ResponseWriter, r *http.Request) {
	fileID := r.PathValue("fileId")
	if err := s.files.Delete(fileID); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeResult(w, r, models.OutcomeDeleted, nil, false)
}
