package accessory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-aqara/internal/audit"
	"github.com/nerrad567/gray-logic-aqara/internal/bridges/aqara"
	"github.com/nerrad567/gray-logic-aqara/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-aqara/internal/infrastructure/mqtt"
)

const (
	defaultQueueSize = 256

	// jobTimeout bounds one store write.
	jobTimeout = 5 * time.Second

	// commandTimeout bounds a write sent for a channel without a handle.
	commandTimeout = 5 * time.Second

	qosAtLeastOnce byte = 1
)

// Publisher is the MQTT surface the manager needs. *mqtt.Client satisfies it.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	IsConnected() bool
}

// MetricWriter records readings as time series. *influxdb.Client satisfies it.
type MetricWriter interface {
	WriteAccessoryReading(r influxdb.AccessoryReading)
}

// Auditor records commands and evictions. *audit.SQLiteRepository satisfies it.
type Auditor interface {
	Create(ctx context.Context, e *audit.Entry) error
}

// ChannelSetter switches a device channel through the bridge, creating its
// commander if needed. *aqara.Bridge satisfies it.
type ChannelSetter interface {
	SetChannel(ctx context.Context, deviceID, channel string, on bool) error
}

// ManagerOptions configures a Manager. Every collaborator is optional.
type ManagerOptions struct {
	Store     Store
	Publisher Publisher
	Metrics   MetricWriter
	Audit     Auditor
	Logger    aqara.Logger

	// QueueSize bounds pending store/publish jobs. Defaults to 256.
	QueueSize int

	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

// Manager implements aqara.Accessories.
//
// Report* calls update memory synchronously and queue persistence and
// publishing for a single worker, so they never block the bridge's event
// loop and per-accessory updates leave in order.
type Manager struct {
	mu          sync.RWMutex
	accessories map[string]*Accessory
	switches    map[string]aqara.SwitchHandle
	lights      map[string]aqara.LightHandle
	channels    ChannelSetter

	store     Store
	publisher Publisher
	metrics   MetricWriter
	audit     Auditor
	logger    aqara.Logger
	now       func() time.Time

	jobs      chan job
	done      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

type job func(ctx context.Context)

var _ aqara.Accessories = (*Manager)(nil)

// NewManager creates a manager. Call Start to begin draining its queue.
func NewManager(opts ManagerOptions) *Manager {
	size := opts.QueueSize
	if size <= 0 {
		size = defaultQueueSize
	}
	m := &Manager{
		accessories: make(map[string]*Accessory),
		switches:    make(map[string]aqara.SwitchHandle),
		lights:      make(map[string]aqara.LightHandle),
		store:       opts.Store,
		publisher:   opts.Publisher,
		metrics:     opts.Metrics,
		audit:       opts.Audit,
		logger:      opts.Logger,
		now:         opts.Clock,
		jobs:        make(chan job, size),
		done:        make(chan struct{}),
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

// SetChannels attaches the bridge so commands reach switches and plugs
// that have not reported since startup. Call it before Start.
func (m *Manager) SetChannels(c ChannelSetter) {
	m.mu.Lock()
	m.channels = c
	m.mu.Unlock()
}

// Restore loads cached accessories and returns one record per device so
// the bridge can seed its registry. It must be called before Start.
func (m *Manager) Restore(ctx context.Context) ([]aqara.DeviceRecord, error) {
	if m.store == nil {
		return nil, nil
	}

	cached, err := m.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("restoring accessories: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	devices := make(map[string]aqara.DeviceRecord)
	for _, a := range cached {
		m.accessories[a.Key] = a
		rec := devices[a.DeviceID]
		rec.DeviceID = a.DeviceID
		rec.GatewayID = a.GatewayID
		if a.Model != "" {
			rec.Model = a.Model
		}
		devices[a.DeviceID] = rec
	}

	out := make([]aqara.DeviceRecord, 0, len(devices))
	for _, rec := range devices {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })

	m.logInfo("accessories restored", "accessories", len(cached), "devices", len(out))
	return out, nil
}

// Start subscribes to accessory commands and starts the worker.
func (m *Manager) Start(ctx context.Context) error {
	var err error
	m.startOnce.Do(func() {
		if m.publisher != nil {
			if subErr := m.publisher.Subscribe(aqara.CommandSubscribeTopic(), qosAtLeastOnce, m.handleCommand); subErr != nil {
				err = fmt.Errorf("subscribing to commands: %w", subErr)
				return
			}
		}
		m.wg.Add(1)
		go m.run(ctx)
	})
	return err
}

// Stop drains queued jobs and stops the worker.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.done)
		m.wg.Wait()
	})
}

func (m *Manager) run(ctx context.Context) {
	defer m.wg.Done()
	for {
		select {
		case j := <-m.jobs:
			m.runJob(ctx, j)
		case <-m.done:
			for {
				select {
				case j := <-m.jobs:
					m.runJob(context.Background(), j)
				default:
					return
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

func (m *Manager) runJob(ctx context.Context, j job) {
	defer func() {
		if r := recover(); r != nil {
			m.logError("accessory job panic recovered", fmt.Errorf("%v", r))
		}
	}()
	j(ctx)
}

func (m *Manager) enqueue(j job) {
	select {
	case m.jobs <- j:
	default:
		m.logWarn("accessory queue full, dropping update", "error", ErrQueueFull)
	}
}

// =============================================================================
// aqara.Accessories
// =============================================================================

func (m *Manager) ReportTemperatureHumidity(gatewayID, deviceID string, temperature, humidity *float64) {
	if temperature != nil {
		m.update(PrefixTemperature+deviceID, deviceID, gatewayID, "", KindTemperature,
			map[string]any{StateTemperature: *temperature})
	}
	if humidity != nil {
		m.update(PrefixHumidity+deviceID, deviceID, gatewayID, "", KindHumidity,
			map[string]any{StateHumidity: *humidity})
	}
}

func (m *Manager) ReportMotion(gatewayID, deviceID string, detected bool) {
	m.update(PrefixMotion+deviceID, deviceID, gatewayID, "", KindMotion,
		map[string]any{StateMotion: detected})
}

func (m *Manager) ReportContact(gatewayID, deviceID string, contacted bool) {
	m.update(PrefixContact+deviceID, deviceID, gatewayID, "", KindContact,
		map[string]any{StateContact: contacted})
}

func (m *Manager) ReportSwitch(gatewayID, deviceID, channelKey string, on bool, handle aqara.SwitchHandle) {
	model := ""
	if handle != nil {
		model = handle.Model()
		m.mu.Lock()
		m.switches[channelKey] = handle
		m.mu.Unlock()
	}
	m.update(channelKey, deviceID, gatewayID, model, switchKind(model),
		map[string]any{StateOn: on})
}

func (m *Manager) ReportAmbientLight(gatewayID, deviceID string, lux float64) {
	m.update(PrefixIllumination+deviceID, deviceID, gatewayID, aqara.ModelGateway, KindLightSensor,
		map[string]any{StateLux: lux})
}

func (m *Manager) ReportGatewayLight(gatewayID, deviceID string, light aqara.LightState, handle aqara.LightHandle) {
	key := PrefixGatewayLight + deviceID
	if handle != nil {
		m.mu.Lock()
		m.lights[key] = handle
		m.mu.Unlock()
	}
	m.update(key, deviceID, gatewayID, aqara.ModelGateway, KindLightbulb, map[string]any{
		StateOn:         light.On,
		StateBrightness: light.Brightness,
		StateHue:        light.Hue,
		StateRGB:        light.RGB,
	})
}

// Unregister forgets every accessory of an evicted device and clears its
// retained state topics.
func (m *Manager) Unregister(gatewayID, deviceID string) {
	m.mu.Lock()
	var keys []string
	for key, a := range m.accessories {
		if a.DeviceID == deviceID {
			keys = append(keys, key)
			delete(m.accessories, key)
			delete(m.switches, key)
			delete(m.lights, key)
		}
	}
	m.mu.Unlock()
	sort.Strings(keys)

	m.logInfo("accessories unregistered", "gateway_id", gatewayID, "device_id", deviceID, "count", len(keys))

	m.enqueue(func(ctx context.Context) {
		if m.store != nil {
			storeCtx, cancel := context.WithTimeout(ctx, jobTimeout)
			defer cancel()
			if err := m.store.DeleteDevice(storeCtx, deviceID); err != nil {
				m.logError("failed to delete accessories", err, "device_id", deviceID)
			}
		}
		for _, key := range keys {
			// An empty retained payload clears the topic on the broker.
			m.publish(aqara.StateTopic(key), nil, true)
			m.record(ctx, &audit.Entry{
				Action:   audit.ActionUnregister,
				Key:      key,
				DeviceID: deviceID,
				Source:   "sweeper",
				Status:   audit.StatusAccepted,
				Details:  map[string]any{"gateway_id": gatewayID},
			})
		}
	})
}

func (m *Manager) record(ctx context.Context, e *audit.Entry) {
	if m.audit == nil {
		return
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = m.now().UTC()
	}
	auditCtx, cancel := context.WithTimeout(ctx, jobTimeout)
	defer cancel()
	if err := m.audit.Create(auditCtx, e); err != nil {
		m.logError("failed to record audit entry", err, "key", e.Key, "action", e.Action)
	}
}

// update merges fields into the accessory's state, creating it if needed,
// and queues a snapshot for persistence, publishing and recording.
func (m *Manager) update(key, deviceID, gatewayID, model string, kind Kind, fields map[string]any) {
	now := m.now()

	m.mu.Lock()
	a, ok := m.accessories[key]
	if !ok {
		a = New(key, deviceID, gatewayID, model, kind, now)
		m.accessories[key] = a
	}
	a.GatewayID = gatewayID
	if model != "" {
		a.Model = model
	}
	for name, v := range fields {
		a.State[name] = v
	}
	a.UpdatedAt = now
	snap := a.Clone()
	m.mu.Unlock()

	if !ok {
		m.logInfo("accessory created", "key", key, "kind", kind, "device_id", deviceID)
	}

	m.enqueue(func(ctx context.Context) {
		m.persist(ctx, snap)
		m.publishState(snap)
		if m.metrics != nil {
			m.metrics.WriteAccessoryReading(influxdb.AccessoryReading{
				Key:       snap.Key,
				DeviceID:  snap.DeviceID,
				GatewayID: snap.GatewayID,
				Kind:      string(snap.Kind),
				Fields:    snap.State,
				Time:      snap.UpdatedAt,
			})
		}
	})
}

func (m *Manager) persist(ctx context.Context, a *Accessory) {
	if m.store == nil {
		return
	}
	storeCtx, cancel := context.WithTimeout(ctx, jobTimeout)
	defer cancel()
	if err := m.store.Save(storeCtx, a); err != nil {
		m.logError("failed to save accessory", err, "key", a.Key)
	}
}

func (m *Manager) publishState(a *Accessory) {
	payload, err := json.Marshal(a.StateMessage())
	if err != nil {
		m.logError("failed to marshal state", err, "key", a.Key)
		return
	}
	m.publish(aqara.StateTopic(a.Key), payload, true)
}

func (m *Manager) publish(topic string, payload []byte, retained bool) {
	if m.publisher == nil || !m.publisher.IsConnected() {
		return
	}
	if err := m.publisher.Publish(topic, payload, qosAtLeastOnce, retained); err != nil {
		m.logError("failed to publish", err, "topic", topic)
	}
}

// =============================================================================
// Queries
// =============================================================================

// Get returns a copy of one accessory.
func (m *Manager) Get(key string) (*Accessory, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.accessories[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return a.Clone(), nil
}

// List returns copies of every accessory ordered by key.
func (m *Manager) List() []*Accessory {
	m.mu.RLock()
	out := make([]*Accessory, 0, len(m.accessories))
	for _, a := range m.accessories {
		out = append(out, a.Clone())
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// =============================================================================
// Logging helpers
// =============================================================================

func (m *Manager) logInfo(msg string, keysAndValues ...any) {
	if m.logger != nil {
		m.logger.Info(msg, keysAndValues...)
	}
}

func (m *Manager) logWarn(msg string, keysAndValues ...any) {
	if m.logger != nil {
		m.logger.Warn(msg, keysAndValues...)
	}
}

func (m *Manager) logError(msg string, err error, keysAndValues ...any) {
	if m.logger != nil {
		m.logger.Error(msg, append([]any{"error", err}, keysAndValues...)...)
	}
}
