package api

import (
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-aqara/internal/accessory"
	"github.com/nerrad567/gray-logic-aqara/internal/bridges/aqara"
)

// AccessoryCommand is the request body of a command POST.
type AccessoryCommand struct {
	Command    string         `json:"command"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// handleListAccessories lists accessories, optionally filtered by
// ?kind= and ?device_id=.
func (s *Server) handleListAccessories(w http.ResponseWriter, r *http.Request) {
	kind := r.URL.Query().Get("kind")
	deviceID := r.URL.Query().Get("device_id")

	all := s.accessories.List()
	out := make([]*accessory.Accessory, 0, len(all))
	for _, a := range all {
		if kind != "" && string(a.Kind) != kind {
			continue
		}
		if deviceID != "" && a.DeviceID != deviceID {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })

	writeJSON(w, http.StatusOK, map[string]any{
		"accessories": out,
		"count":       len(out),
	})
}

func (s *Server) handleGetAccessory(w http.ResponseWriter, r *http.Request) {
	a, err := s.accessories.Get(chi.URLParam(r, "key"))
	if err != nil {
		writeAccessoryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// handleAccessoryCommand hands a command to the accessory layer. The write
// to the gateway is asynchronous, so success is 202.
func (s *Server) handleAccessoryCommand(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	var body AccessoryCommand
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if body.Command == "" {
		writeBadRequest(w, "command field is required")
		return
	}

	cmd := aqara.CommandMessage{
		ID:         uuid.NewString(),
		Timestamp:  time.Now().UTC(),
		Key:        key,
		Command:    body.Command,
		Parameters: body.Parameters,
		Source:     "api",
	}
	if err := s.accessories.Execute(cmd); err != nil {
		s.logger.Debug("accessory command rejected", "key", key, "command", body.Command, "error", err)
		writeAccessoryError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"command_id": cmd.ID,
		"key":        key,
		"status":     aqara.AckAccepted,
	})
}
