package api

import (
	"net/http"
	"time"
)

// DeviceView is the JSON shape of one registry device.
type DeviceView struct {
	DeviceID          string    `json:"device_id"`
	GatewayID         string    `json:"gateway_id"`
	GatewayAddr       string    `json:"gateway_addr,omitempty"`
	Model             string    `json:"model"`
	LastGatewaySeenAt time.Time `json:"last_gateway_seen_at"`
	LastDeviceSeenAt  time.Time `json:"last_device_seen_at"`
}

// handleListDevices returns every device in the bridge registry.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	records, err := s.bridge.Devices(r.Context())
	if err != nil {
		s.logger.Warn("listing devices failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "bridge not available")
		return
	}

	views := make([]DeviceView, 0, len(records))
	for _, rec := range records {
		v := DeviceView{
			DeviceID:          rec.DeviceID,
			GatewayID:         rec.GatewayID,
			Model:             rec.Model,
			LastGatewaySeenAt: rec.LastGatewaySeenAt,
			LastDeviceSeenAt:  rec.LastDeviceSeenAt,
		}
		if rec.GatewayAddr != nil {
			v.GatewayAddr = rec.GatewayAddr.String()
		}
		views = append(views, v)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"devices": views,
		"count":   len(views),
	})
}

// handleListGateways returns the authorisation state of each known gateway.
func (s *Server) handleListGateways(w http.ResponseWriter, r *http.Request) {
	gateways, err := s.bridge.Gateways(r.Context())
	if err != nil {
		s.logger.Warn("listing gateways failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "bridge not available")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"gateways": gateways,
		"count":    len(gateways),
	})
}
