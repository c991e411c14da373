package service

import (
	"net/http"
	"time"

	"github.com/InsulaLabs/fleet/models"
)

func (s *Service) pingHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, models.PingResponse{
		InstanceID: s.cfg.InstanceID,
		StartedAt:  s.startedAt.UTC(),
		Uptime:     time.Since(s.startedAt),
		FileShards: s.files.ShardCount(),
	})
}
