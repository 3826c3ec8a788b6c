package aqara

import "time"

// Default staleness windows.
const (
	DefaultSweepInterval   = 1800 * time.Second
	DefaultDeviceThreshold = 3600 * time.Second
	DefaultAbsoluteCeiling = 86400 * time.Second
)

// SweepPolicy holds the two staleness windows.
type SweepPolicy struct {
	// DeviceThreshold is how far a device's last-seen time may trail its
	// gateway's before the device is considered gone.
	DeviceThreshold time.Duration

	// AbsoluteCeiling is the longest a device may stay silent regardless of
	// gateway liveness.
	AbsoluteCeiling time.Duration
}

// Stale reports whether a record should be evicted at time now.
//
// A device that is silent only because its gateway is silent is kept until
// the absolute ceiling. Once the gateway is heard again and the device still
// trails it by more than DeviceThreshold, the device is evicted.
func (p SweepPolicy) Stale(rec DeviceRecord, now time.Time) bool {
	if !rec.LastGatewaySeenAt.IsZero() &&
		rec.LastGatewaySeenAt.Sub(rec.LastDeviceSeenAt) > p.DeviceThreshold {
		return true
	}
	return now.Sub(rec.LastDeviceSeenAt) > p.AbsoluteCeiling
}

// Sweeper removes stale records from a Registry.
type Sweeper struct {
	registry *Registry
	policy   SweepPolicy
	onEvict  func(DeviceRecord)
}

// NewSweeper creates a sweeper. onEvict is called once per removed record,
// after it has left the registry; it may be nil.
func NewSweeper(registry *Registry, policy SweepPolicy, onEvict func(DeviceRecord)) *Sweeper {
	if policy.DeviceThreshold <= 0 {
		policy.DeviceThreshold = DefaultDeviceThreshold
	}
	if policy.AbsoluteCeiling <= 0 {
		policy.AbsoluteCeiling = DefaultAbsoluteCeiling
	}
	return &Sweeper{registry: registry, policy: policy, onEvict: onEvict}
}

// Sweep evaluates every record once and returns the evicted ones.
func (s *Sweeper) Sweep(now time.Time) []DeviceRecord {
	var evicted []DeviceRecord
	for _, rec := range s.registry.Devices() {
		if !s.policy.Stale(rec, now) {
			continue
		}
		s.registry.Remove(rec.DeviceID)
		evicted = append(evicted, rec)
		if s.onEvict != nil {
			s.onEvict(rec)
		}
	}
	return evicted
}
