// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"grimm.is/ipsd/internal/pipeline"
	"grimm.is/ipsd/internal/runmode"
)

// ModeResponse describes one registered mode.
type ModeResponse struct {
	Transport   string `json:"transport"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Default     bool   `json:"default"`
}

// TopologyResponse describes the running topology.
type TopologyResponse struct {
	ID           string               `json:"id"`
	Mode         string               `json:"mode"`
	ActiveStages int                  `json:"active_stages"`
	Stages       []pipeline.StageInfo `json:"stages"`
}

func modeResponse(m runmode.Mode) ModeResponse {
	return ModeResponse{
		Transport:   string(m.Transport),
		Name:        m.Name,
		Description: m.Description,
		Default:     m.Default,
	}
}

func (s *Server) handleListModes(w http.ResponseWriter, r *http.Request) {
	var modes []ModeResponse
	if s.opts.Registry != nil {
		for _, m := range s.opts.Registry.Modes(s.opts.Transport) {
			modes = append(modes, modeResponse(m))
		}
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"transport": s.opts.Transport,
		"modes":     modes,
		"count":     len(modes),
	})
}

func (s *Server) handleGetMode(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if s.opts.Registry == nil {
		WriteError(w, http.StatusNotFound, ErrNotFound)
		return
	}
	m, err := s.opts.Registry.Lookup(s.opts.Transport, name)
	if err != nil {
		WriteErrorFrom(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, modeResponse(m))
}

func (s *Server) handleGetTopology(w http.ResponseWriter, r *http.Request) {
	t := s.topology()
	if t == nil {
		WriteError(w, http.StatusNotFound, ErrNoTopology)
		return
	}
	WriteJSON(w, http.StatusOK, TopologyResponse{
		ID:           t.ID,
		Mode:         t.Mode,
		ActiveStages: t.ActiveStages(),
		Stages:       t.Stages(),
	})
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	if s.opts.Rates == nil {
		WriteError(w, http.StatusServiceUnavailable, "Statistics not enabled")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"timestamp":   time.Now().UTC(),
		"last_update": s.opts.Rates.LastUpdate().UTC(),
		"rates":       s.opts.Rates.Rates(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	t := s.topology()
	if t == nil {
		WriteError(w, http.StatusServiceUnavailable, ErrNoTopology)
		return
	}
	select {
	case <-t.Done():
		WriteError(w, http.StatusServiceUnavailable, "Topology stopped")
	default:
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// WriteJSON writes data as a JSON response.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
