package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/ncloudioj/gcp-ingestion/internal/config"
	"github.com/ncloudioj/gcp-ingestion/internal/engine"
	"github.com/ncloudioj/gcp-ingestion/internal/event"
	"github.com/ncloudioj/gcp-ingestion/internal/logging"
	"github.com/ncloudioj/gcp-ingestion/internal/metrics"
	"github.com/ncloudioj/gcp-ingestion/internal/resource"
)

const maxBatchSize = 100

// Handler holds all HTTP handler dependencies.
type Handler struct {
	eng    *engine.Engine
	loader *config.Loader
	cache  *resource.Cache
	mux    *http.ServeMux
	log    zerolog.Logger
}

// New creates an HTTP handler, registers all routes and subscribes to
// config changes so reloads rebuild the stage.
func New(eng *engine.Engine, loader *config.Loader, cache *resource.Cache, log zerolog.Logger) http.Handler {
	h := &Handler{eng: eng, loader: loader, cache: cache, mux: http.NewServeMux(), log: log}
	loader.OnChange(h.applyConfig)

	h.mux.HandleFunc("POST /v1/records", h.ingestRecord)
	h.mux.HandleFunc("POST /v1/records/batch", h.ingestBatch)
	h.mux.HandleFunc("GET /v1/config", h.showConfig)
	h.mux.HandleFunc("POST /v1/config/reload", h.reloadConfig)
	h.mux.HandleFunc("GET /healthz", h.healthz)
	h.mux.HandleFunc("GET /readyz", h.readyz)
	h.mux.Handle("GET /metrics", promhttp.Handler())

	return loggingMiddleware(log, h.mux)
}

// POST /v1/records: synchronous single-record processing.
func (h *Handler) ingestRecord(w http.ResponseWriter, r *http.Request) {
	var rec event.Record
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
		return
	}
	if rec.Attributes == nil {
		rec.Attributes = event.Attributes{}
	}

	res, err := h.eng.ProcessSync(r.Context(), rec)
	if err != nil {
		writeProcessError(w, err)
		return
	}
	if !res.OK() {
		writeJSON(w, http.StatusUnprocessableEntity, res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// POST /v1/records/batch: async batch ingestion (up to 100 records).
// With ?sync=true the batch is processed before responding and the
// response lists successes and failures.
func (h *Handler) ingestBatch(w http.ResponseWriter, r *http.Request) {
	var records []event.Record
	if err := json.NewDecoder(r.Body).Decode(&records); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
		return
	}
	if len(records) == 0 {
		writeError(w, http.StatusBadRequest, "batch must contain at least one record")
		return
	}
	if len(records) > maxBatchSize {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("batch size %d exceeds max %d", len(records), maxBatchSize))
		return
	}
	for i := range records {
		if records[i].Attributes == nil {
			records[i].Attributes = event.Attributes{}
		}
	}

	jobID := uuid.New().String()
	if r.URL.Query().Get("sync") == "true" {
		h.processBatchSync(r.Context(), w, jobID, records)
		return
	}

	queued := 0
	for _, rec := range records {
		if h.eng.ProcessAsync(rec) {
			queued++
		}
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"job_id":   jobID,
		"total":    len(records),
		"queued":   queued,
		"rejected": len(records) - queued,
	})
}

func (h *Handler) processBatchSync(ctx context.Context, w http.ResponseWriter, jobID string, records []event.Record) {
	results := make([]engine.Result, len(records))
	errs := make([]error, len(records))
	var wg sync.WaitGroup
	for i, rec := range records {
		wg.Add(1)
		go func(i int, rec event.Record) {
			defer wg.Done()
			results[i], errs[i] = h.eng.ProcessSync(ctx, rec)
		}(i, rec)
	}
	wg.Wait()
	if err := errors.Join(errs...); err != nil {
		writeProcessError(w, err)
		return
	}

	successes, failures := engine.Partition(results)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"job_id":    jobID,
		"total":     len(records),
		"successes": successes,
		"failures":  failures,
	})
}

// GET /v1/config: the configuration in effect.
func (h *Handler) showConfig(w http.ResponseWriter, r *http.Request) {
	cfg := h.loader.Config()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"version":   cfg.Version,
		"mode":      h.eng.Stage().Mode(),
		"resources": cfg.Resources,
		"engine":    cfg.Engine,
	})
}

// POST /v1/config/reload: re-read the config file and rebuild the stage.
// A config that fails validation or cannot be applied is 422 and leaves the
// current config and stage in place.
func (h *Handler) reloadConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.loader.Reload()
	if err != nil {
		var verr *config.ValidationError
		var aerr *config.ApplyError
		if errors.As(err, &verr) || errors.As(err, &aerr) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"reloaded": true,
		"version":  cfg.Version,
		"mode":     cfg.Engine.Mode,
	})
}

// applyConfig rebuilds the stage from the shared cache and swaps it into
// the engine. The previous stage stays in place on error.
func (h *Handler) applyConfig(cfg *config.Config) error {
	if err := h.rebuild(cfg); err != nil {
		h.log.Warn().Err(err).Msg("config change skipped")
		return err
	}
	h.log.Info().Str("version", cfg.Version).Str("mode", cfg.Engine.Mode).Msg("stage reconfigured")
	return nil
}

func (h *Handler) rebuild(cfg *config.Config) error {
	stage, err := engine.NewStage(context.Background(), h.cache, cfg.StageConfig(), h.log)
	if err != nil {
		return fmt.Errorf("build stage: %w", err)
	}
	if err := logging.SetLevel(cfg.Log.Level); err != nil {
		return err
	}
	h.eng.SwapStage(stage)
	return nil
}

// GET /healthz: always 200 (liveness probe).
func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GET /readyz: 503 if record queue >80% full.
func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	util := h.eng.QueueUtilization()
	metrics.QueueUtilization.Set(util)
	if util > 0.8 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":            "overloaded",
			"queue_utilization": util,
			"busy_workers":      h.eng.BusyWorkers(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":            "ready",
		"queue_utilization": util,
		"busy_workers":      h.eng.BusyWorkers(),
	})
}
