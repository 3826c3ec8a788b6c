package aqara

import (
	"net"
	"sort"
	"time"
)

// DeviceRecord describes one device known to the bridge.
// A gateway is its own device: its record has GatewayID == DeviceID.
type DeviceRecord struct {
	DeviceID          string
	GatewayID         string
	GatewayAddr       *net.UDPAddr
	Model             string
	LastGatewaySeenAt time.Time
	LastDeviceSeenAt  time.Time
}

// GatewaySession holds the authorisation state of one gateway.
type GatewaySession struct {
	GatewayID  string
	Password   string
	Token      string
	LastSeenAt time.Time
}

// Key derives the current write key for this gateway.
func (s *GatewaySession) Key() (string, error) {
	return DeriveKey(s.Password, s.Token)
}

// GatewayStatus is a read-only view of a gateway session.
// Secrets are reduced to presence flags.
type GatewayStatus struct {
	GatewayID   string    `json:"gateway_id"`
	HasPassword bool      `json:"has_password"`
	HasToken    bool      `json:"has_token"`
	LastSeenAt  time.Time `json:"last_seen_at"`
	Devices     int       `json:"devices"`
}

// Registry maps device identifiers to their owning gateway and tracks the
// session of every gateway.
//
// Registry is not safe for concurrent use. The bridge owns it and only
// touches it from its event loop.
type Registry struct {
	devices  map[string]*DeviceRecord
	sessions map[string]*GatewaySession
}

// NewRegistry creates a registry seeded with the configured gateway
// passwords (gateway sid -> password).
func NewRegistry(passwords map[string]string) *Registry {
	r := &Registry{
		devices:  make(map[string]*DeviceRecord),
		sessions: make(map[string]*GatewaySession),
	}
	for sid, pw := range passwords {
		r.session(sid).Password = pw
	}
	return r
}

// session returns the session for a gateway, creating it if absent.
func (r *Registry) session(gatewayID string) *GatewaySession {
	s, ok := r.sessions[gatewayID]
	if !ok {
		s = &GatewaySession{GatewayID: gatewayID}
		r.sessions[gatewayID] = s
	}
	return s
}

// getOrInsert returns the record for a device, creating it if absent.
func (r *Registry) getOrInsert(deviceID string) (*DeviceRecord, bool) {
	rec, ok := r.devices[deviceID]
	if !ok {
		rec = &DeviceRecord{DeviceID: deviceID}
		r.devices[deviceID] = rec
	}
	return rec, !ok
}

// Attach records that a device belongs to a gateway reachable at addr and
// marks both as seen. It reports whether the record was newly created.
func (r *Registry) Attach(deviceID, gatewayID string, addr *net.UDPAddr, now time.Time) bool {
	rec, created := r.getOrInsert(deviceID)
	rec.GatewayID = gatewayID
	if addr != nil {
		rec.GatewayAddr = addr
	}
	rec.LastDeviceSeenAt = now
	r.session(gatewayID).LastSeenAt = now
	return created
}

// Restore seeds a record for a device remembered from a previous run.
// Existing records are left untouched. The gateway address stays unknown
// until discovery runs again.
func (r *Registry) Restore(deviceID, gatewayID, model string, now time.Time) {
	if _, ok := r.devices[deviceID]; ok {
		return
	}
	r.devices[deviceID] = &DeviceRecord{
		DeviceID:         deviceID,
		GatewayID:        gatewayID,
		Model:            model,
		LastDeviceSeenAt: now,
	}
}

// Touch marks a known device (and therefore its gateway) as seen.
// model is recorded when non-empty. Unknown devices report false.
func (r *Registry) Touch(deviceID, model string, now time.Time) bool {
	rec, ok := r.devices[deviceID]
	if !ok {
		return false
	}
	rec.LastDeviceSeenAt = now
	if model != "" {
		rec.Model = model
	}
	if rec.GatewayID != "" {
		r.session(rec.GatewayID).LastSeenAt = now
	}
	return true
}

// SetToken stores the latest session token of a gateway.
func (r *Registry) SetToken(gatewayID, token string, now time.Time) {
	s := r.session(gatewayID)
	s.Token = token
	s.LastSeenAt = now
}

// Session returns the session of a gateway, if any.
func (r *Registry) Session(gatewayID string) (*GatewaySession, bool) {
	s, ok := r.sessions[gatewayID]
	return s, ok
}

// Device returns a copy of a device record with LastGatewaySeenAt filled in.
func (r *Registry) Device(deviceID string) (DeviceRecord, bool) {
	rec, ok := r.devices[deviceID]
	if !ok {
		return DeviceRecord{}, false
	}
	return r.snapshot(rec), true
}

// GatewayOf returns the owning gateway id of a device.
func (r *Registry) GatewayOf(deviceID string) string {
	if rec, ok := r.devices[deviceID]; ok {
		return rec.GatewayID
	}
	return ""
}

// Remove deletes a device record. Sessions are never removed.
func (r *Registry) Remove(deviceID string) {
	delete(r.devices, deviceID)
}

// Len returns the number of known devices.
func (r *Registry) Len() int {
	return len(r.devices)
}

// HeardGateways counts gateways that have sent at least one datagram.
// Sessions seeded from configured passwords do not count until then.
func (r *Registry) HeardGateways() int {
	n := 0
	for _, s := range r.sessions {
		if !s.LastSeenAt.IsZero() {
			n++
		}
	}
	return n
}

// Devices returns copies of all records ordered by device id.
func (r *Registry) Devices() []DeviceRecord {
	out := make([]DeviceRecord, 0, len(r.devices))
	for _, rec := range r.devices {
		out = append(out, r.snapshot(rec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}

// Gateways returns the status of every gateway session ordered by id.
func (r *Registry) Gateways() []GatewayStatus {
	counts := make(map[string]int, len(r.sessions))
	for _, rec := range r.devices {
		counts[rec.GatewayID]++
	}
	out := make([]GatewayStatus, 0, len(r.sessions))
	for id, s := range r.sessions {
		out = append(out, GatewayStatus{
			GatewayID:   id,
			HasPassword: s.Password != "",
			HasToken:    s.Token != "",
			LastSeenAt:  s.LastSeenAt,
			Devices:     counts[id],
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GatewayID < out[j].GatewayID })
	return out
}

func (r *Registry) snapshot(rec *DeviceRecord) DeviceRecord {
	cp := *rec
	if s, ok := r.sessions[rec.GatewayID]; ok {
		cp.LastGatewaySeenAt = s.LastSeenAt
	}
	return cp
}
