package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-feed-crawler/internal/crawler"
	"github.com/JakeFAU/realtime-feed-crawler/internal/orchestrator"
)

const (
	defaultItemsLimit = 500
	maxItemsLimit     = 5000
	queryTimeout      = 10 * time.Second
)

// QueryHandler exposes the high-water mark and persisted chunks.
type QueryHandler struct {
	marks        crawler.WatermarkStore
	watermarkKey string
	blobs        crawler.BlobStore
	keyPrefix    string
	verifier     orchestrator.Verifier
	timeout      time.Duration
	logger       *zap.Logger
}

// NewQueryHandler wires the stores read by the query endpoints. verifier may
// be nil to skip digest checks.
func NewQueryHandler(
	marks crawler.WatermarkStore,
	watermarkKey string,
	blobs crawler.BlobStore,
	keyPrefix string,
	verifier orchestrator.Verifier,
	logger *zap.Logger,
) *QueryHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if keyPrefix == "" {
		keyPrefix = crawler.DefaultChunkPrefix
	}
	return &QueryHandler{
		marks:        marks,
		watermarkKey: watermarkKey,
		blobs:        blobs,
		keyPrefix:    keyPrefix,
		verifier:     verifier,
		timeout:      queryTimeout,
		logger:       logger,
	}
}

// GetWatermark handles GET /v1/watermark. It returns
// {"key","value","present"}; value is omitted when nothing is stored.
func (h *QueryHandler) GetWatermark(w http.ResponseWriter, r *http.Request) {
	if h.marks == nil {
		writeError(w, http.StatusServiceUnavailable, "watermark store unavailable")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	value, ok, err := h.marks.Get(ctx, h.watermarkKey)
	if err != nil {
		h.logger.Error("read watermark failed", zap.Error(&crawler.WatermarkReadError{Key: h.watermarkKey, Err: err}))
		writeError(w, http.StatusInternalServerError, "failed to read watermark")
		return
	}
	body := map[string]any{"key": h.watermarkKey, "present": ok}
	if ok {
		body["value"] = value
		body["time"] = time.UnixMilli(value).UTC().Format(time.RFC3339Nano)
	}
	writeJSON(w, http.StatusOK, body)
}

// ResetWatermark handles DELETE /v1/watermark. The next run then falls back to
// the default lookback window. Backends without reset support answer 501.
func (h *QueryHandler) ResetWatermark(w http.ResponseWriter, r *http.Request) {
	resetter, ok := h.marks.(crawler.WatermarkResetter)
	if !ok {
		writeError(w, http.StatusNotImplemented, "watermark backend does not support reset")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	if err := resetter.Reset(ctx, h.watermarkKey); err != nil {
		h.logger.Error("reset watermark failed", zap.String("key", h.watermarkKey), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to reset watermark")
		return
	}
	h.logger.Info("watermark reset", zap.String("key", h.watermarkKey))
	writeJSON(w, http.StatusOK, map[string]any{"key": h.watermarkKey, "reset": true})
}

// ListItems handles GET /v1/items?job=<timestamp>&limit=. It reassembles the
// ordered item sequence written by that job. 400 for a missing or malformed
// job timestamp, 502 when a chunk fails its digest check.
func (h *QueryHandler) ListItems(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSpace(r.URL.Query().Get("job"))
	if raw == "" {
		writeError(w, http.StatusBadRequest, "job is required")
		return
	}
	jobTime, err := crawler.ParseJobTimestamp(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job timestamp")
		return
	}
	limit, err := parseLimit(r, defaultItemsLimit, maxItemsLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	prefix := crawler.JobChunkPrefix(h.keyPrefix, jobTime)
	items, err := orchestrator.ReadChunks(ctx, h.blobs, prefix, h.verifier)
	if err != nil {
		h.logger.Error("read chunks failed", zap.String("prefix", prefix), zap.Error(err))
		status := http.StatusInternalServerError
		if errors.Is(err, orchestrator.ErrDigestMismatch) {
			status = http.StatusBadGateway
		}
		writeError(w, status, "failed to read chunks")
		return
	}
	total := len(items)
	if len(items) > limit {
		items = items[:limit]
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"job":   crawler.FormatJobTimestamp(jobTime),
		"total": total,
		"items": items,
	})
}

func parseLimit(r *http.Request, def, maxLimit int) (int, error) {
	limStr := r.URL.Query().Get("limit")
	if limStr == "" {
		return def, nil
	}
	val, err := strconv.Atoi(limStr)
	if err != nil || val <= 0 {
		return 0, errors.New("invalid limit")
	}
	if val > maxLimit {
		val = maxLimit
	}
	return val, nil
}
