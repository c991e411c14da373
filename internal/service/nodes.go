package service

import (
	"net/http"

	"github.com/InsulaLabs/fleet/models"
)

func (s *Service) nodeUpdateHandler(w http.ResponseWriter, r *http.Request) {
	var update models.NodeUpdate
	if !s.decodeBody(w, r, &update) {
		return
	}

	if _, err := s.nodes.Update(update); err != nil {
		s.writeError(w, r, err)
		return
	}

	s.requestLogger(r).Debug("NodeUpdateHandler", "node_id", update.NodeID)
	s.writeResult(w, r, models.OutcomeUpdated, nil, false)
}

func (s *Service) nodeListHandler(w http.ResponseWriter, r *http.Request) {
	nodes, err := s.nodes.List()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, models.NodeListResponse{Data: nodes})
}

func (s *Service) nodeGetHandler(w http.ResponseWriter, r *http.Request) {
	node, err := s.nodes.Get(r.PathValue("nodeId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, node)
}

func (s *Service) nodeRemoveHandler(w http.ResponseWriter, r *http.Request) {
	nodeID := r.PathValue("nodeId")
	if err := s.nodes.Remove(nodeID); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.requestLogger(r).Debug("NodeRemoveHandler", "node_id", nodeID)
	s.writeResult(w, r, models.OutcomeDeleted, nil, false)
}
