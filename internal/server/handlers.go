package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/recall/internal/config"
	"github.com/hyperjump/recall/internal/models"
	"github.com/hyperjump/recall/internal/search"
	"github.com/hyperjump/recall/internal/storage"
)

// StoreRequest is the body of POST /api/v1/owners/{owner}/records.
type StoreRequest struct {
	ID   string `json:"id,omitempty"`
	Text string `json:"text"`
}

// OpenRequest is the body of POST /api/v1/owners/{owner}/open.
type OpenRequest struct {
	ForceNew bool `json:"force_new"`
}

// StatusResponse is the shape of GET /api/v1/status.
type StatusResponse struct {
	*search.Status
	DiskUsageBytes *int64        `json:"disk_usage_bytes,omitempty"`
	Config         *StatusConfig `json:"config,omitempty"`
}

// StatusConfig holds the configuration values reported by status.
type StatusConfig struct {
	Backend             string `json:"backend"`
	EmbeddingDimensions int    `json:"embedding_dimensions"`
	IndexMinVectors     int    `json:"index_min_vectors"`
	DatabasePath        string `json:"database_path,omitempty"`
	JSONLDir            string `json:"jsonl_dir,omitempty"`
	BoltPath            string `json:"bolt_path,omitempty"`
}

// BuildStatus joins an engine status with configuration and disk usage. cfg may be nil.
func BuildStatus(status *search.Status, cfg *config.Config) *StatusResponse {
	resp := &StatusResponse{Status: status}
	if cfg == nil {
		return resp
	}
	resp.Config = &StatusConfig{
		Backend:             cfg.Storage.Backend,
		EmbeddingDimensions: cfg.Embedding.Dimensions,
		IndexMinVectors:     cfg.Index.MinVectors,
	}
	switch cfg.Storage.Backend {
	case "sqlite":
		resp.Config.DatabasePath = cfg.Storage.DatabasePath
	case "jsonl":
		resp.Config.JSONLDir = cfg.Storage.JSONLDir
	case "bolt":
		resp.Config.BoltPath = cfg.Storage.BoltPath
	}
	if diskBytes, err := storage.DiskUsage(cfg.Storage); err == nil {
		resp.DiskUsageBytes = &diskBytes
	}
	return resp
}

// RegenerateResponse reports how many vectors were re-created.
type RegenerateResponse struct {
	OwnerID     string `json:"owner_id"`
	Regenerated int    `json:"regenerated"`
}

func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")
	var req OpenRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	if err := s.engine.Open(r.Context(), owner, req.ForceNew); err != nil {
		s.fail(w, "open failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"owner_id": owner, "force_new": req.ForceNew})
}

func (s *Server) handleStore(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")
	var req StoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("store request", zap.String("owner", owner), zap.String("id", req.ID))
	id, err := s.engine.Store(r.Context(), owner, req.ID, req.Text)
	if err != nil && !models.IsNotDurable(err) {
		s.fail(w, "store failed", err)
		return
	}
	if err != nil {
		s.logger.Warn("stored but not durable", zap.String("owner", owner), zap.String("id", id), zap.Error(err))
		s.respondJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": "not_durable", "error": err.Error()})
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]string{"id": id, "status": "stored"})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	rec, err := s.engine.Get(r.Context(), chi.URLParam(r, "owner"), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, "get failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	owner, id := chi.URLParam(r, "owner"), chi.URLParam(r, "id")
	s.logger.Debug("delete request", zap.String("owner", owner), zap.String("id", id))
	err := s.engine.Delete(r.Context(), owner, id)
	if err != nil && !models.IsNotDurable(err) {
		s.fail(w, "delete failed", err)
		return
	}
	if err != nil {
		s.logger.Warn("deleted but not durable", zap.String("owner", owner), zap.String("id", id), zap.Error(err))
		s.respondJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": "not_durable", "error": err.Error()})
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"id": id, "status": "deleted"})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var query models.SearchQuery
	if err := json.NewDecoder(r.Body).Decode(&query); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	query.OwnerID = chi.URLParam(r, "owner")
	s.logger.Debug("search request", zap.String("query", query.Query), zap.Int("limit", query.Limit))
	response, err := s.engine.Search(r.Context(), &query)
	if err != nil {
		s.fail(w, "search failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, response)
}

func (s *Server) handleBuildIndex(w http.ResponseWriter, r *http.Request) {
	stats, err := s.engine.BuildIndex(r.Context(), chi.URLParam(r, "owner"))
	if err != nil {
		s.fail(w, "index build failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, stats)
}

func (s *Server) handleRegenerate(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")
	n, err := s.engine.Regenerate(r.Context(), owner, nil)
	if err != nil && !models.IsNotDurable(err) {
		s.fail(w, "regenerate failed", err)
		return
	}
	if err != nil {
		s.logger.Warn("regenerated but not durable", zap.String("owner", owner), zap.Error(err))
		s.respondJSON(w, http.StatusAccepted, RegenerateResponse{OwnerID: owner, Regenerated: n})
		return
	}
	s.respondJSON(w, http.StatusOK, RegenerateResponse{OwnerID: owner, Regenerated: n})
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.engine.Settings())
}

// handlePutSettings applies the settings and, when persisting, writes them to the config
// file. configMu covers both steps so the file always holds the last applied settings.
// The shared config is never modified; a copy carrying the new settings is saved.
func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	s.configMu.Lock()
	defer s.configMu.Unlock()

	settings := s.engine.Settings()
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.engine.Configure(settings); err != nil {
		s.fail(w, "configure failed", err)
		return
	}
	applied := s.engine.Settings()
	if s.configPath != "" && s.config != nil {
		if err := config.Save(s.configPath, settingsConfig(s.config, applied)); err != nil {
			s.logger.Warn("failed to persist semantic settings", zap.Error(err))
		}
	}
	s.respondJSON(w, http.StatusOK, applied)
}

// settingsConfig returns a copy of cfg with its semantic section and embedding method
// replaced by settings.
func settingsConfig(cfg *config.Config, settings models.SemanticSettings) *config.Config {
	out := *cfg
	enabled, threshold := settings.Enabled, settings.Threshold
	out.Semantic = config.SemanticConfig{
		Enabled:    &enabled,
		Threshold:  &threshold,
		MaxResults: settings.MaxResults,
	}
	out.Embedding.Method = settings.Method
	return &out
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.engine.Status(r.Context())
	if err != nil {
		s.fail(w, "status failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, BuildStatus(status, s.config))
}

// fail logs err and responds with the status its error class maps to.
func (s *Server) fail(w http.ResponseWriter, msg string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(msg, zap.Error(err))
	} else {
		s.logger.Debug(msg, zap.Error(err))
	}
	s.respondError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrNotImplemented):
		return http.StatusNotImplemented
	case models.IsNotDurable(err):
		return http.StatusAccepted
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
