package service

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"log/slog"
	"net/http"
	"time"

	"github.com/InsulaLabs/fleet/config"
	"github.com/InsulaLabs/fleet/internal/replication"
	"github.com/InsulaLabs/fleet/models"
	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/time/rate"
)

const (
	categoryNodes  = "nodes"
	categoryFiles  = "files"
	categorySystem = "system"

	limiterTTL = time.Minute
)

// NodeRegistry is the node status store the service dispatches to.
type NodeRegistry interface {
	Update(update models.NodeUpdate) (models.NodeRecord, error)
	List() ([]models.NodeRecord, error)
	Get(nodeID string) (models.NodeRecord, error)
	Remove(nodeID string) error
}

// FileCoordinator is the replication coordinator the service dispatches to.
type FileCoordinator interface {
	Assign(fileID, nodeID string) (replication.Result, error)
	Complete(fileID string) (replication.Result, error)
	Status(ctx context.Context, fileID string) (models.FileRecord, error)
	All() ([]models.FileRecord, error)
	Lock(fileID string) (replication.Result, error)
	Unlock(fileID string) (replication.Result, error)
	Delete(fileID string) error
	ShardCount() int
}

type Settings struct {
	Ctx    context.Context
	Logger *slog.Logger
	Config *config.Fleet
	Nodes  NodeRegistry
	Files  FileCoordinator
}

type Service struct {
	appCtx    context.Context
	cfg       *config.Fleet
	logger    *slog.Logger
	nodes     NodeRegistry
	files     FileCoordinator
	authToken string // empty when no instance secret is configured
	mux       *http.ServeMux
	handler   http.Handler

	startedAt time.Time

	rateLimiters   map[string]*ttlcache.Cache[string, *rate.Limiter]
	limits         map[string]config.RateLimiterConfig
	trustedProxies map[string]struct{}
}

// AuthToken derives the bearer token clients must present from the instance
// secret.
func AuthToken(instanceSecret string) string {
	secHash := sha256.New()
	secHash.Write([]byte(instanceSecret))
	return hex.EncodeToString(secHash.Sum(nil))
}

func New(settings Settings) *Service {
	ctx := settings.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	logger := settings.Logger
	if logger == nil {
		logger = slog.Default()
	}

	authToken := ""
	if settings.Config.InstanceSecret != "" {
		authToken = AuthToken(settings.Config.InstanceSecret)
	}

	s := &Service{
		appCtx:       ctx,
		cfg:          settings.Config,
		logger:       logger,
		nodes:        settings.Nodes,
		files:        settings.Files,
		authToken:    authToken,
		mux:          http.NewServeMux(),
		startedAt:    time.Now(),
		rateLimiters: make(map[string]*ttlcache.Cache[string, *rate.Limiter]),
		limits:       make(map[string]config.RateLimiterConfig),
	}

	s.trustedProxies = make(map[string]struct{}, len(settings.Config.TrustedProxies))
	for _, proxy := range settings.Config.TrustedProxies {
		s.trustedProxies[proxy] = struct{}{}
	}

	rlLogger := logger.With("component", "rate-limiter")
	for category, rlConfig := range map[string]config.RateLimiterConfig{
		categoryNodes:  settings.Config.RateLimiters.Nodes,
		categoryFiles:  settings.Config.RateLimiters.Files,
		categorySystem: settings.Config.RateLimiters.System,
	} {
		if rlConfig.Limit <= 0 {
			continue
		}
		cache := ttlcache.New[string, *rate.Limiter](
			ttlcache.WithTTL[string, *rate.Limiter](limiterTTL),
			ttlcache.WithDisableTouchOnHit[string, *rate.Limiter](),
		)
		go cache.Start()
		s.rateLimiters[category] = cache
		s.limits[category] = rlConfig
		rlLogger.Info("Initialized rate limiter", "category", category, "limit", rlConfig.Limit, "burst", rlConfig.Burst)
	}

	s.routes()
	s.handler = s.requestIDMiddleware(s.mux)
	return s
}

func (s *Service) routes() {
	route := func(pattern, category string, h http.HandlerFunc) {
		s.mux.Handle(pattern, s.rateLimitMiddleware(s.authMiddleware(h), category))
	}

	// Node registry
	route("POST /api/v1/node/update", categoryNodes, s.nodeUpdateHandler)
	route("GET /api/v1/node/status", categoryNodes, s.nodeListHandler)
	route("GET /api/v1/node/status/{nodeId}", categoryNodes, s.nodeGetHandler)
	route("DELETE /api/v1/node/{nodeId}", categoryNodes, s.nodeRemoveHandler)

	// File replication
	route("POST /api/v1/file/assign", categoryFiles, s.fileAssignHandler)
	route("POST /api/v1/file/complete", categoryFiles, s.fileCompleteHandler)
	route("GET /api/v1/file/status/{fileId}", categoryFiles, s.fileStatusHandler)
	route("GET /api/v1/file/status", categoryFiles, s.fileListHandler)
	route("POST /api/v1/file/lock", categoryFiles, s.fileLockHandler)
	route("POST /api/v1/file/unlock", categoryFiles, s.fileUnlockHandler)
	route("DELETE /api/v1/file/{fileId}", categoryFiles, s.fileDeleteHandler)

	// System
	route("GET /api/v1/ping", categorySystem, s.pingHandler)
}

// Handler returns the fully wrapped API handler.
func (s *Service) Handler() http.Handler {
	return s.handler
}

// Close stops the rate limiter caches.
func (s *Service) Close() {
	for _, cache := range s.rateLimiters {
		cache.Stop()
	}
}

// Run serves the API until the app context is cancelled.
func (s *Service) Run() {
	defer s.Close()

	httpListenAddr := s.cfg.HttpBinding
	tlsEnabled := s.cfg.TLS.Cert != "" && s.cfg.TLS.Key != ""
	s.logger.Info("Attempting to start server", "listen_addr", httpListenAddr, "tls_enabled", tlsEnabled, "auth_enabled", s.authToken != "")

	srv := &http.Server{
		Addr:              httpListenAddr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-s.appCtx.Done()
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelShutdown()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("Server shutdown error", "error", err)
		}
	}()

	if tlsEnabled {
		s.logger.Info("Starting HTTPS server", "cert", s.cfg.TLS.Cert, "key", s.cfg.TLS.Key)
		srv.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		if err := srv.ListenAndServeTLS(s.cfg.TLS.Cert, s.cfg.TLS.Key); err != http.ErrServerClosed {
			s.logger.Error("HTTPS server error", "error", err)
		}
	} else {
		s.logger.Info("TLS cert or key not specified in config. Starting HTTP server (insecure).")
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", "error", err)
		}
	}
}
