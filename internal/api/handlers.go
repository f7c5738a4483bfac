package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	boterrors "github.com/ducminhle1904/crypto-risk-core/internal/errors"
	"github.com/ducminhle1904/crypto-risk-core/internal/logger"
	"github.com/ducminhle1904/crypto-risk-core/internal/performance"
	"github.com/ducminhle1904/crypto-risk-core/internal/risk"
	"github.com/ducminhle1904/crypto-risk-core/internal/safety"
)

// OverrideTokenHeader carries the operator override token.
const OverrideTokenHeader = "X-Override-Token"

const maxBodyBytes = 1 << 16

type handlers struct {
	risk           RiskController
	onStop         StopHandler
	engine         EngineView
	log            *logger.Logger
	flattenTimeout time.Duration
}

// StopRequest is the body of POST /risk/emergency-stop.
type StopRequest struct {
	Reason string `json:"reason"`
}

// StopResponse reports the stop and whether this request raised it.
type StopResponse struct {
	risk.StopResult
	FlattenError string `json:"flatten_error,omitempty"`
}

// ArmRequest is the body of POST /risk/override/arm.
type ArmRequest struct {
	Reason    string `json:"reason"`
	ResetPeak bool   `json:"reset_peak"`
}

// HistoryResponse is the body of GET /risk/performance/history.
type HistoryResponse struct {
	Snapshots []performance.PerformanceSnapshot `json:"snapshots"`
	Count     int                               `json:"count"`
}

// TripsResponse is the body of GET /risk/trips.
type TripsResponse struct {
	Trips []safety.TripRecord `json:"trips"`
	Count int                 `json:"count"`
}

func (h *handlers) emergencyStop(w http.ResponseWriter, r *http.Request) {
	var req StopRequest
	if err := decodeOptionalBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid request body", err)
		return
	}

	// Flattening must outlive the client connection.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), h.flattenTimeout)
	defer cancel()

	result, err := h.risk.EmergencyStop(ctx, req.Reason)
	if err != nil && !result.Flag.Active {
		writeError(w, http.StatusInternalServerError, codeInternal, "emergency stop failed", err)
		return
	}
	if err != nil {
		// in effect but not persisted
		h.log.LogError("persist emergency stop", err)
	}

	resp := StopResponse{StopResult: result}
	if h.onStop != nil {
		if flattenErr := h.onStop.OnEmergencyStop(ctx, result); flattenErr != nil {
			h.log.LogError("flatten after emergency stop", flattenErr)
			resp.FlattenError = flattenErr.Error()
		}
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error:   "emergency stop active but not persisted",
			Code:    codeInternal,
			Details: err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) resume(w http.ResponseWriter, r *http.Request) {
	err := h.risk.Resume(r.Context())
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, h.risk.Status())
	case errors.Is(err, boterrors.ErrNotActive):
		writeError(w, http.StatusConflict, codeNotActive, "emergency stop is not active", nil)
	default:
		writeError(w, http.StatusInternalServerError, codeInternal, "resume failed", err)
	}
}

func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.risk.Status())
}

func (h *handlers) performance(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.risk.Snapshot())
}

func (h *handlers) performanceHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, codeBadRequest, "limit must be a non-negative integer", nil)
			return
		}
		limit = n
	}
	snaps := h.risk.SnapshotHistory(limit)
	writeJSON(w, http.StatusOK, HistoryResponse{Snapshots: snaps, Count: len(snaps)})
}

func (h *handlers) trips(w http.ResponseWriter, r *http.Request) {
	trips := h.risk.TripHistory()
	if trips == nil {
		trips = []safety.TripRecord{}
	}
	writeJSON(w, http.StatusOK, TripsResponse{Trips: trips, Count: len(trips)})
}

func (h *handlers) overrideArm(w http.ResponseWriter, r *http.Request) {
	var req ArmRequest
	if err := decodeOptionalBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid request body", err)
		return
	}
	if req.Reason == "" {
		req.Reason = "operator override"
	}

	err := h.risk.ForceArm(r.Context(), r.Header.Get(OverrideTokenHeader), req.Reason, req.ResetPeak)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, h.risk.Status())
	case errors.Is(err, boterrors.ErrUnauthorized):
		writeError(w, http.StatusForbidden, codeForbidden, "override not authorized", nil)
	default:
		writeError(w, http.StatusInternalServerError, codeInternal, "override failed", err)
	}
}

func (h *handlers) engineStats(w http.ResponseWriter, r *http.Request) {
	if h.engine == nil {
		writeError(w, http.StatusNotFound, codeNotAvailable, "no trading engine attached", nil)
		return
	}
	writeJSON(w, http.StatusOK, h.engine.Stats())
}

// decodeOptionalBody accepts an empty body and rejects malformed JSON.
func decodeOptionalBody(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
