package aqara

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

const defaultHealthInterval = 30 * time.Second

// HealthPublisher is the part of the MQTT client the health reporter uses.
type HealthPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// HealthReporterConfig wires a HealthReporter to the rest of the bridge.
// Only BridgeID and Publisher are needed for a useful report.
type HealthReporterConfig struct {
	BridgeID string
	Version  string
	Interval time.Duration // 30s when zero

	Publisher HealthPublisher
	Transport Transport
	Counts    func() (devices, gateways int)
	Logger    Logger
	Now       func() time.Time
}

// HealthReporter keeps the retained message on graylogic/health/aqara
// current. If the bridge drops off the broker, the will registered by the
// MQTT client replaces it with an offline report.
type HealthReporter struct {
	cfg     HealthReporterConfig
	started time.Time

	mu     sync.Mutex
	logger Logger

	stop     chan struct{}
	running  sync.WaitGroup
	stopOnce sync.Once
}

// NewHealthReporter returns a reporter that is idle until Start.
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultHealthInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &HealthReporter{
		cfg:     cfg,
		started: cfg.Now(),
		logger:  cfg.Logger,
		stop:    make(chan struct{}),
	}
}

// Start publishes a report right away and then once per interval until
// ctx ends or Stop is called.
func (h *HealthReporter) Start(ctx context.Context) {
	h.running.Add(1)
	go func() {
		defer h.running.Done()

		tick := time.NewTicker(h.cfg.Interval)
		defer tick.Stop()

		for {
			if err := h.PublishNow(); err != nil {
				h.warn("health report not published", err)
			}
			select {
			case <-ctx.Done():
				return
			case <-h.stop:
				return
			case <-tick.C:
			}
		}
	}()
}

// Stop ends the report loop and leaves a "stopping" report behind.
// Later calls do nothing.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.stop)
		h.running.Wait()
		if err := h.publish(HealthStopping, ""); err != nil {
			h.warn("stopping report not published", err)
		}
	})
}

// PublishStarting announces the bridge before discovery has begun.
func (h *HealthReporter) PublishStarting() error {
	return h.publish(HealthStarting, "bridge starting")
}

// PublishNow publishes the current status without waiting for the ticker.
func (h *HealthReporter) PublishNow() error {
	status, reason := h.determineStatus()
	return h.publish(status, reason)
}

func (h *HealthReporter) setLogger(l Logger) {
	h.mu.Lock()
	h.logger = l
	h.mu.Unlock()
}

// determineStatus checks the broker link first, then the socket, then
// whether any gateway has been heard from.
func (h *HealthReporter) determineStatus() (HealthStatus, string) {
	_, gateways := h.counts()
	switch {
	case h.cfg.Publisher == nil || !h.cfg.Publisher.IsConnected():
		return HealthDegraded, "MQTT disconnected"
	case h.cfg.Transport != nil && !h.cfg.Transport.Stats().Open:
		return HealthDegraded, "UDP socket closed"
	case h.cfg.Counts != nil && gateways == 0:
		return HealthDegraded, "no gateways discovered"
	}
	return HealthHealthy, ""
}

func (h *HealthReporter) counts() (devices, gateways int) {
	if h.cfg.Counts == nil {
		return 0, 0
	}
	return h.cfg.Counts()
}

func (h *HealthReporter) publish(status HealthStatus, reason string) error {
	if h.cfg.Publisher == nil {
		return nil
	}

	var stats TransportStats
	if h.cfg.Transport != nil {
		stats = h.cfg.Transport.Stats()
	}
	devices, gateways := h.counts()

	now := h.cfg.Now()
	msg := NewHealthMessage(h.cfg.BridgeID, h.cfg.Version, status, stats, devices, gateways, h.started)
	msg.Timestamp = now.UTC()
	msg.UptimeSeconds = int64(now.Sub(h.started).Seconds())
	msg.Reason = reason

	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return h.cfg.Publisher.Publish(HealthTopic(), payload, 1, true)
}

func (h *HealthReporter) warn(msg string, err error) {
	h.mu.Lock()
	l := h.logger
	h.mu.Unlock()
	if l != nil {
		l.Warn(msg, "error", err)
	}
}
