package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/username/cellarbook/backend/src/logger"
	"github.com/username/cellarbook/backend/src/models"
	"github.com/username/cellarbook/backend/src/services"
	"github.com/username/cellarbook/backend/src/utils"
)

type ReconciliationHandler struct {
	reconciliationService services.ReconciliationService
}

func NewReconciliationHandler(service services.ReconciliationService) *ReconciliationHandler {
	return &ReconciliationHandler{
		reconciliationService: service,
	}
}

// HandleReconcile serves GET /api/reconciliation?start=YYYY-MM-DD&end=YYYY-MM-DD.
// The window is (start, end]: activity exactly at start belongs to the
// previous period, activity exactly at end to this one.
func (h *ReconciliationHandler) HandleReconcile(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		sendJSONError(w, "authentication required or user ID not found in context", http.StatusUnauthorized)
		return
	}

	startStr := r.URL.Query().Get("start")
	endStr := r.URL.Query().Get("end")
	if startStr == "" || endStr == "" {
		sendJSONError(w, "start and end query parameters are required", http.StatusBadRequest)
		return
	}

	start := utils.ParseDate(startStr)
	end := utils.ParseDate(endStr)
	if start.IsZero() || end.IsZero() {
		sendJSONError(w, "start and end must be YYYY-MM-DD dates or RFC3339 instants", http.StatusBadRequest)
		return
	}
	// A date-only end means "through the whole of that day".
	if len(endStr) == len(utils.DefaultDateFormat) {
		end = end.Add(24*time.Hour - time.Nanosecond)
	}

	logger.L.Info("Handling Reconcile", "userID", userID,
		"start", start.Format(time.RFC3339), "end", end.Format(time.RFC3339))

	window := models.ReconciliationWindow{Start: start, End: end}
	report, err := h.reconciliationService.Reconcile(userID, window)
	if err != nil {
		if errors.Is(err, services.ErrInvalidWindow) {
			sendJSONError(w, err.Error(), http.StatusBadRequest)
			return
		}
		logger.L.Error("Error computing reconciliation", "userID", userID, "error", err)
		sendJSONError(w, fmt.Sprintf("Error computing reconciliation for userID %d: %v", userID, err), http.StatusInternalServerError)
		return
	}

	currentETag, etagErr := utils.GenerateETag(report)
	w.Header().Set("Cache-Control", "no-cache, private")
	if etagErr == nil && currentETag != "" {
		quotedETag := fmt.Sprintf("\"%s\"", currentETag)
		w.Header().Set("ETag", quotedETag)
		clientETag := r.Header.Get("If-None-Match")
		for _, cETag := range strings.Split(clientETag, ",") {
			if strings.TrimSpace(cETag) == quotedETag {
				w.WriteHeader(http.StatusNotModified)
				return
			}
		}
	} else {
		logger.L.Warn("Proceeding without ETag check due to ETag generation error", "userID", userID, "error", etagErr)
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(report); err != nil {
		logger.L.Error("Error encoding reconciliation report to JSON", "userID", userID, "error", err)
	}
}

// HandleVolumeAt serves GET /api/batches/{id}/volume?at=YYYY-MM-DD. Without
// an "at" parameter the volume is replayed through now.
func (h *ReconciliationHandler) HandleVolumeAt(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		sendJSONError(w, "authentication required or user ID not found in context", http.StatusUnauthorized)
		return
	}

	batchID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		sendJSONError(w, "invalid batch id", http.StatusBadRequest)
		return
	}

	at := time.Now()
	if atStr := r.URL.Query().Get("at"); atStr != "" {
		at = utils.ParseDate(atStr)
		if at.IsZero() {
			sendJSONError(w, "at must be a YYYY-MM-DD date or RFC3339 instant", http.StatusBadRequest)
			return
		}
		if len(atStr) == len(utils.DefaultDateFormat) {
			at = at.Add(24*time.Hour - time.Nanosecond)
		}
	}

	volume, err := h.reconciliationService.VolumeAt(userID, batchID, at)
	if err != nil {
		if errors.Is(err, services.ErrUnknownBatch) {
			sendJSONError(w, err.Error(), http.StatusNotFound)
			return
		}
		logger.L.Error("Error computing batch volume", "userID", userID, "batchID", batchID, "error", err)
		sendJSONError(w, fmt.Sprintf("Error computing volume for batch %d: %v", batchID, err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"batch_id": batchID,
		"at":       at,
		"volume":   utils.RoundLiters(volume),
	})
}

// HandleCapacityHistory serves GET /api/batches/{id}/capacity.
func (h *ReconciliationHandler) HandleCapacityHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		sendJSONError(w, "authentication required or user ID not found in context", http.StatusUnauthorized)
		return
	}

	batchID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		sendJSONError(w, "invalid batch id", http.StatusBadRequest)
		return
	}

	peaks, err := h.reconciliationService.CapacityHistory(userID, batchID)
	if err != nil {
		if errors.Is(err, services.ErrUnknownBatch) {
			sendJSONError(w, err.Error(), http.StatusNotFound)
			return
		}
		logger.L.Error("Error computing capacity history", "userID", userID, "batchID", batchID, "error", err)
		sendJSONError(w, fmt.Sprintf("Error computing capacity history for batch %d: %v", batchID, err), http.StatusInternalServerError)
		return
	}

	if peaks == nil {
		peaks = []models.VesselPeak{}
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(peaks); err != nil {
		logger.L.Error("Error encoding capacity history to JSON", "userID", userID, "error", err)
	}
}

// HandleInvalidateCache serves POST /api/reconciliation/invalidate-cache. The
// write side of the app calls it after recording or editing ledger rows so
// the next report reflects them.
func (h *ReconciliationHandler) HandleInvalidateCache(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		sendJSONError(w, "authentication required or user ID not found in context", http.StatusUnauthorized)
		return
	}

	h.reconciliationService.InvalidateUserCache(userID)
	w.WriteHeader(http.StatusNoContent)
}
