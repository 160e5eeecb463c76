package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/flowmart/rfid-sync-agent/gateway"
	"github.com/flowmart/rfid-sync-agent/mapping"
	"github.com/flowmart/rfid-sync-agent/rfid"
	"github.com/flowmart/rfid-sync-agent/session"
)

// writeJSON writes v as a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// handleHealth provides a health check endpoint (GET /api/v1/health)
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"timestamp":     time.Now().Format("2006-01-02T15:04:05Z07:00"),
		"uptimeSeconds": int(time.Since(s.startedAt).Seconds()),
		"clients":       s.feed.count(),
	})
}

// handleTagList returns the current window contents (GET /api/v1/tags)
func (s *Server) handleTagList(w http.ResponseWriter, r *http.Request) {
	tags := s.config.Engine.Snapshot()
	writeJSON(w, http.StatusOK, TagListPayload{Tags: tags, Count: len(tags)})
}

// handleTagClear empties the window (DELETE /api/v1/tags)
func (s *Server) handleTagClear(w http.ResponseWriter, r *http.Request) {
	if !s.config.Engine.Clear() {
		http.Error(w, "engine not accepting commands", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cleared": true})
}

// handleScanStatus reports the scan session state (GET /api/v1/scan)
func (s *Server) handleScanStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.config.Session.Status())
}

// handleScanStart asks the gateway to begin scanning (POST /api/v1/scan/start).
// A gateway refusal maps to 409, a transport failure to 502; either way
// the session stays idle.
func (s *Server) handleScanStart(w http.ResponseWriter, r *http.Request) {
	if err := s.config.Session.Start(r.Context()); err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, session.ErrAlreadyScanning) || errors.Is(err, gateway.ErrCommandRejected) {
			status = http.StatusConflict
		}
		http.Error(w, err.Error(), status)
		return
	}
	writeJSON(w, http.StatusOK, s.config.Session.Status())
}

// handleScanStop asks the gateway to stop scanning (POST /api/v1/scan/stop).
// Stopping an idle session succeeds.
func (s *Server) handleScanStop(w http.ResponseWriter, r *http.Request) {
	if err := s.config.Session.Stop(r.Context()); err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, gateway.ErrCommandRejected) {
			status = http.StatusConflict
		}
		http.Error(w, err.Error(), status)
		return
	}
	writeJSON(w, http.StatusOK, s.config.Session.Status())
}

// handleAutoSyncGet reports the auto-sync toggle (GET /api/v1/auto-sync)
func (s *Server) handleAutoSyncGet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": s.config.Engine.AutoSync()})
}

// handleAutoSyncSet sets the auto-sync toggle (PUT /api/v1/auto-sync)
func (s *Server) handleAutoSyncSet(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	s.config.Engine.SetAutoSync(req.Enabled)
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": req.Enabled})
}

// handleMappingCreate registers a mapping for an operator-entered EPC
// (POST /api/v1/mappings). Unlike stream-driven creation there is no
// dedup gate and no session requirement.
func (s *Server) handleMappingCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		EPC       string `json:"epc"`
		ProductID string `json:"product_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if rfid.NormalizeEPC(req.EPC) == "" {
		http.Error(w, "epc is required", http.StatusBadRequest)
		return
	}

	m, err := s.config.Engine.CreateManual(r.Context(), req.EPC, req.ProductID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, m)
	case mapping.IsConflict(err):
		if m.ID != "" {
			// The follow-up lookup found the existing record.
			writeJSON(w, http.StatusConflict, m)
			return
		}
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, err.Error(), http.StatusBadGateway)
	}
}

// handleMappingVerify checks an EPC and code pair against the store
// (POST /api/v1/mappings/verify)
func (s *Server) handleMappingVerify(w http.ResponseWriter, r *http.Request) {
	var req mapping.VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.EPC == "" || req.QRCode == "" {
		http.Error(w, "epc and qr_code are required", http.StatusBadRequest)
		return
	}

	result, err := s.config.Store.Verify(r.Context(), req.EPC, req.QRCode)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleMappingList returns all stored mappings (GET /api/v1/mappings)
func (s *Server) handleMappingList(w http.ResponseWriter, r *http.Request) {
	mappings, err := s.config.Store.List(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"mappings": mappings,
		"count":    len(mappings),
	})
}

// handleMappingDelete removes a stored mapping (DELETE /api/v1/mappings/{id}).
// The window is not touched; record lifecycle is the store's concern.
func (s *Server) handleMappingDelete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := s.config.Store.Delete(r.Context(), id); err != nil {
		if errors.Is(err, mapping.ErrNotFound) {
			http.Error(w, "mapping not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
