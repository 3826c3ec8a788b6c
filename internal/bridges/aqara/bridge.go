package aqara

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// Bridge operation constants.
const (
	// packetQueueSize buffers datagrams between the socket and the event loop.
	packetQueueSize = 256

	// taskQueueSize buffers commands and queries submitted to the event loop.
	taskQueueSize = 64

	// sendTimeout bounds a single outbound datagram.
	sendTimeout = 2 * time.Second
)

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Bridge runs the gateway protocol: discovery, dispatch to decoders,
// authorised writes and staleness sweeps.
//
// Registry, session and commander state belong to a single event-loop
// goroutine. Exported methods are safe for concurrent use; they reach that
// state only by submitting work to the loop.
type Bridge struct {
	cfg         *Config
	transport   Transport
	accessories Accessories
	metrics     *Metrics
	health      *HealthReporter
	now         func() time.Time

	// Event-loop state
	registry   *Registry
	commanders *CommanderTable
	decoders   map[string]Decoder
	sweeper    *Sweeper
	multicast  *net.UDPAddr

	packets chan Packet
	tasks   chan func()

	// Counts mirrored for readers outside the loop
	deviceCount  atomic.Int64
	gatewayCount atomic.Int64

	// Shutdown coordination
	running   atomic.Bool
	done      chan struct{}
	wg        sync.WaitGroup
	stopOnce  sync.Once
	ctx       context.Context
	ctxCancel context.CancelFunc

	logger   Logger
	loggerMu sync.RWMutex
}

// BridgeOptions holds configuration for creating a bridge.
type BridgeOptions struct {
	// Config is the loaded bridge configuration.
	Config *Config

	// Transport carries gateway datagrams.
	Transport Transport

	// Accessories receives decoded events and eviction notices.
	Accessories Accessories

	// Publisher is optional. When set, health is published over MQTT.
	Publisher HealthPublisher

	// Metrics is optional. If nil, unregistered collectors are used.
	Metrics *Metrics

	// Logger is optional structured logger.
	Logger Logger

	// Version is reported in health messages.
	Version string

	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

// NewBridge creates a new bridge instance.
// Call Start() to begin operation.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if opts.Transport == nil {
		return nil, fmt.Errorf("transport is required")
	}
	if opts.Accessories == nil {
		return nil, fmt.Errorf("accessories are required")
	}

	ctx, ctxCancel := context.WithCancel(context.Background())

	b := &Bridge{
		cfg:         opts.Config,
		transport:   opts.Transport,
		accessories: opts.Accessories,
		metrics:     opts.Metrics,
		now:         opts.Clock,
		registry:    NewRegistry(opts.Config.Passwords()),
		multicast:   opts.Config.MulticastAddr(),
		packets:     make(chan Packet, packetQueueSize),
		tasks:       make(chan func(), taskQueueSize),
		done:        make(chan struct{}),
		ctx:         ctx,
		ctxCancel:   ctxCancel,
		logger:      opts.Logger,
	}
	if b.metrics == nil {
		b.metrics = NewMetrics(nil)
	}
	if b.now == nil {
		b.now = time.Now
	}

	b.commanders = newCommanderTable(b, b.submit, opts.Logger)
	b.decoders = newDecoders(b.commanders, opts.Logger)
	b.sweeper = NewSweeper(b.registry, opts.Config.GetSweepPolicy(), b.evict)

	if opts.Publisher != nil {
		b.health = NewHealthReporter(HealthReporterConfig{
			BridgeID:  opts.Config.Bridge.ID,
			Version:   opts.Version,
			Interval:  opts.Config.GetHealthInterval(),
			Publisher: opts.Publisher,
			Transport: opts.Transport,
			Counts:    b.counts,
			Logger:    opts.Logger,
			Now:       b.now,
		})
	}

	return b, nil
}

// Restore seeds registry records for devices remembered from a previous
// run. It must be called before Start.
func (b *Bridge) Restore(devices []DeviceRecord) {
	now := b.now()
	for _, d := range devices {
		b.registry.Restore(d.DeviceID, d.GatewayID, d.Model, now)
	}
	b.refreshCounts()
	if len(devices) > 0 {
		b.logInfo("restored cached devices", "count", len(devices))
	}
}

// Start begins bridge operation: it hooks the transport, starts health
// reporting and launches the event loop, which broadcasts whois at once.
func (b *Bridge) Start(ctx context.Context) error {
	if !b.running.CompareAndSwap(false, true) {
		return fmt.Errorf("bridge already started")
	}

	if b.health != nil {
		if err := b.health.PublishStarting(); err != nil {
			b.logError("failed to publish starting status", err)
		}
	}

	b.transport.SetOnPacket(b.enqueuePacket)

	b.wg.Add(1)
	go b.loop(ctx)

	if b.health != nil {
		b.health.Start(ctx)
	}

	b.logInfo("bridge started",
		"bridge_id", b.cfg.Bridge.ID,
		"gateways_configured", len(b.cfg.Gateways),
		"send_policy", string(b.cfg.Bridge.SendPolicy))

	return nil
}

// Stop gracefully shuts down the bridge. The transport is left open; its
// owner closes it.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.running.Store(false)
		close(b.done)
		b.ctxCancel()

		if b.health != nil {
			b.health.Stop()
		}

		b.wg.Wait()
		b.transport.SetOnPacket(nil)

		b.logInfo("bridge stopped")
	})
}

// loop is the single goroutine that owns all protocol state.
func (b *Bridge) loop(ctx context.Context) {
	defer b.wg.Done()
	defer b.running.Store(false)

	whois := time.NewTicker(b.cfg.GetWhoisInterval())
	defer whois.Stop()
	sweep := time.NewTicker(b.cfg.GetSweepInterval())
	defer sweep.Stop()

	b.safely("whois", b.sendWhois)

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.done:
			return
		case p := <-b.packets:
			b.safely("packet", func() { b.handlePacket(p) })
		case fn := <-b.tasks:
			b.safely("task", fn)
		case <-whois.C:
			b.safely("whois", b.sendWhois)
		case <-sweep.C:
			b.safely("sweep", b.sweep)
		}
	}
}

// safely runs fn and recovers a panic so one bad datagram cannot stop the
// loop.
func (b *Bridge) safely(what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			b.metrics.Dropped.WithLabelValues(dropPanic).Inc()
			b.logError("event handler panicked", fmt.Errorf("%s: %v", what, r))
		}
	}()
	fn()
}

// enqueuePacket is the transport callback. It never blocks the reader.
func (b *Bridge) enqueuePacket(p Packet) {
	select {
	case b.packets <- p:
	case <-b.done:
	default:
		b.metrics.Dropped.WithLabelValues(dropQueueFull).Inc()
		b.logWarn("packet queue full, dropping datagram", "from", addrString(p.From))
	}
}

// submit schedules fn on the event loop. It never blocks; work submitted
// while the bridge is stopped or saturated is dropped with a warning.
func (b *Bridge) submit(fn func()) {
	if !b.running.Load() {
		b.logWarn("bridge not running, dropping command")
		return
	}
	select {
	case b.tasks <- fn:
	case <-b.done:
	default:
		b.logWarn("task queue full, dropping command")
	}
}

// call runs fn on the event loop and waits for its result.
func call[T any](ctx context.Context, b *Bridge, fn func() T) (T, error) {
	var zero T
	if !b.running.Load() {
		return zero, ErrNotRunning
	}

	result := make(chan T, 1)
	task := func() { result <- fn() }

	select {
	case b.tasks <- task:
	case <-b.done:
		return zero, ErrNotRunning
	case <-ctx.Done():
		return zero, ctx.Err()
	}

	select {
	case v := <-result:
		return v, nil
	case <-b.done:
		return zero, ErrNotRunning
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// handlePacket decodes one datagram and dispatches it by command.
func (b *Bridge) handlePacket(p Packet) {
	env, err := Decode(p.Data)
	if err != nil {
		b.metrics.Dropped.WithLabelValues(dropMalformed).Inc()
		b.logWarn("dropping malformed datagram", "from", addrString(p.From), "error", err)
		return
	}
	b.metrics.Datagrams.WithLabelValues(env.Cmd).Inc()
	now := b.now()

	switch env.Cmd {
	case CmdIAm:
		b.handleIAm(env, p, now)
	case CmdGetIDListAck:
		b.handleDeviceList(env, p, now)
	case CmdHeartbeat:
		b.handleHeartbeat(env, now)
	case CmdWriteAck:
		b.registry.Touch(env.SID, env.Model, now)
		b.logDebug("write acknowledged", "device_id", env.SID, "data", env.Data)
	default:
		b.handleReport(env, now)
	}

	b.refreshCounts()
}

// handleIAm answers a gateway announcement with get_id_list and reads the
// gateway's own state.
func (b *Bridge) handleIAm(env *Envelope, p Packet, now time.Time) {
	if env.SID == "" {
		b.logWarn("iam without sid, ignoring", "from", addrString(p.From))
		return
	}
	addr, err := announcedAddr(env, p.From)
	if err != nil {
		b.logWarn("iam with unusable address, ignoring", "gateway_id", env.SID, "error", err)
		return
	}

	model := env.Model
	if model == "" {
		model = ModelGateway
	}
	if b.registry.Attach(env.SID, env.SID, addr, now) {
		b.logInfo("gateway discovered", "gateway_id", env.SID, "address", addr.String())
	}
	b.registry.Touch(env.SID, model, now)

	b.send(addr, NewGetIDList())
	b.send(addr, NewRead(env.SID))
}

// handleDeviceList records the gateway token and every listed device, and
// reads each device's state.
func (b *Bridge) handleDeviceList(env *Envelope, p Packet, now time.Time) {
	ids, err := env.DeviceList()
	if err != nil {
		b.metrics.Dropped.WithLabelValues(dropMalformed).Inc()
		b.logWarn("dropping malformed device list", "gateway_id", env.SID, "error", err)
		return
	}
	if env.Token != "" {
		b.registry.SetToken(env.SID, env.Token, now)
	}

	added := 0
	for _, id := range ids {
		if id == "" {
			continue
		}
		if b.registry.Attach(id, env.SID, p.From, now) {
			added++
		}
		b.send(p.From, NewRead(id))
	}
	b.logDebug("device list received", "gateway_id", env.SID, "devices", len(ids), "new", added)
}

// handleHeartbeat refreshes a gateway token. Heartbeats only mark
// non-gateway devices as seen.
func (b *Bridge) handleHeartbeat(env *Envelope, now time.Time) {
	if IsGatewayModel(env.Model) && env.Token != "" {
		b.registry.SetToken(env.SID, env.Token, now)
	}
	b.registry.Touch(env.SID, env.Model, now)
}

// handleReport routes read_ack and report payloads to the model decoder.
func (b *Bridge) handleReport(env *Envelope, now time.Time) {
	b.registry.Touch(env.SID, env.Model, now)

	dec, ok := b.decoders[env.Model]
	if !ok && IsGatewayModel(env.Model) {
		dec, ok = b.decoders[ModelGateway]
	}
	if !ok {
		b.logDebug("ignoring unsupported model", "cmd", env.Cmd, "model", env.Model, "device_id", env.SID)
		return
	}

	payload, err := env.Payload()
	if err != nil {
		b.metrics.Dropped.WithLabelValues(dropMalformed).Inc()
		b.logWarn("dropping malformed payload", "model", env.Model, "device_id", env.SID, "error", err)
		return
	}

	events := dec.Decode(Message{
		Envelope:  env,
		Payload:   payload,
		GatewayID: b.registry.GatewayOf(env.SID),
	})
	for _, e := range events {
		e.Deliver(b.accessories)
		b.metrics.Events.WithLabelValues(env.Model).Inc()
	}
}

// writeCommand implements commandWriter. It resolves the device's gateway,
// derives the key and transmits per the send policy. writes_total counts
// the write once however many copies the policy sends.
func (b *Bridge) writeCommand(model, deviceID string, data map[string]any) error {
	rec, ok := b.registry.Device(deviceID)
	if !ok {
		b.metrics.Writes.WithLabelValues(writeNoAddress).Inc()
		return fmt.Errorf("%w: %s", ErrUnknownDevice, deviceID)
	}
	if rec.GatewayAddr == nil {
		b.metrics.Writes.WithLabelValues(writeNoAddress).Inc()
		return fmt.Errorf("%w: gateway %s of %s", ErrNoGatewayAddress, rec.GatewayID, deviceID)
	}

	var key string
	var err error
	if s, ok := b.registry.Session(rec.GatewayID); ok {
		key, err = s.Key()
	} else {
		err = ErrMissingCredentials
	}
	if err != nil {
		b.metrics.Writes.WithLabelValues(writeNoCreds).Inc()
		return fmt.Errorf("gateway %s: %w", rec.GatewayID, err)
	}

	payload := make(map[string]any, len(data)+1)
	for k, v := range data {
		payload[k] = v
	}
	payload["key"] = key

	env, err := NewWrite(model, deviceID, payload)
	if err != nil {
		b.metrics.Writes.WithLabelValues(writeFailed).Inc()
		return err
	}
	raw, err := Encode(env)
	if err != nil {
		b.metrics.Writes.WithLabelValues(writeFailed).Inc()
		return err
	}

	for i := 0; i < b.cfg.Bridge.SendPolicy.copies(); i++ {
		if err := b.transmit(rec.GatewayAddr, raw); err != nil {
			b.metrics.Writes.WithLabelValues(writeFailed).Inc()
			return err
		}
	}
	b.metrics.Writes.WithLabelValues(writeSent).Inc()
	b.logDebug("write sent", "device_id", deviceID, "model", model, "gateway_id", rec.GatewayID)
	return nil
}

// send encodes and transmits a request, logging failures.
func (b *Bridge) send(addr *net.UDPAddr, env *Envelope) {
	raw, err := Encode(env)
	if err != nil {
		b.logError("failed to encode request", err)
		return
	}
	if err := b.transmit(addr, raw); err != nil {
		b.logError("failed to send "+env.Cmd, err)
	}
}

func (b *Bridge) transmit(addr *net.UDPAddr, raw []byte) error {
	ctx, cancel := context.WithTimeout(b.ctx, sendTimeout)
	defer cancel()
	return b.transport.Send(ctx, addr, raw)
}

func (b *Bridge) sendWhois() {
	b.send(b.multicast, NewWhois())
}

func (b *Bridge) sweep() {
	evicted := b.sweeper.Sweep(b.now())
	if len(evicted) > 0 {
		b.logInfo("staleness sweep complete", "evicted", len(evicted), "remaining", b.registry.Len())
	}
	b.refreshCounts()
}

// evict is the sweeper callback.
func (b *Bridge) evict(rec DeviceRecord) {
	b.metrics.Evictions.Inc()
	b.logInfo("evicting stale device",
		"device_id", rec.DeviceID,
		"gateway_id", rec.GatewayID,
		"last_seen", rec.LastDeviceSeenAt)
	b.accessories.Unregister(rec.GatewayID, rec.DeviceID)
}

func (b *Bridge) refreshCounts() {
	devices := b.registry.Len()
	gateways := b.registry.HeardGateways()
	b.deviceCount.Store(int64(devices))
	b.gatewayCount.Store(int64(gateways))
	b.metrics.Devices.Set(float64(devices))
	b.metrics.Gateways.Set(float64(gateways))
}

// counts reports device and gateway totals to the health reporter.
func (b *Bridge) counts() (devices, gateways int) {
	return int(b.deviceCount.Load()), int(b.gatewayCount.Load())
}

// Devices returns a snapshot of the registry.
func (b *Bridge) Devices(ctx context.Context) ([]DeviceRecord, error) {
	return call(ctx, b, b.registry.Devices)
}

// Gateways returns the status of every gateway session.
func (b *Bridge) Gateways(ctx context.Context) ([]GatewayStatus, error) {
	return call(ctx, b, b.registry.Gateways)
}

// SetChannel switches one channel of a known device and waits for the
// write to be sent. The commander is created if this is the first command
// for that channel.
func (b *Bridge) SetChannel(ctx context.Context, deviceID, channel string, on bool) error {
	sendErr, err := call(ctx, b, func() error {
		rec, ok := b.registry.Device(deviceID)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownDevice, deviceID)
		}
		return b.commanders.GetOrInsert(deviceID, rec.Model, channel).send(on)
	})
	if err != nil {
		return err
	}
	return sendErr
}

// BridgeMetrics contains metrics data for the API metrics endpoint.
type BridgeMetrics struct {
	Running   bool   `json:"running"`
	PacketsRx uint64 `json:"packets_rx"`
	PacketsTx uint64 `json:"packets_tx"`
	Errors    uint64 `json:"errors"`
	Devices   int    `json:"devices"`
	Gateways  int    `json:"gateways"`
}

// GetMetrics returns current bridge metrics.
func (b *Bridge) GetMetrics() BridgeMetrics {
	stats := b.transport.Stats()
	devices, gateways := b.counts()
	return BridgeMetrics{
		Running:   b.running.Load(),
		PacketsRx: stats.PacketsRx,
		PacketsTx: stats.PacketsTx,
		Errors:    stats.ErrorsTotal,
		Devices:   devices,
		Gateways:  gateways,
	}
}

// announcedAddr builds the reply address from an iam's ip and port,
// falling back to the datagram source for missing parts.
func announcedAddr(env *Envelope, from *net.UDPAddr) (*net.UDPAddr, error) {
	addr := &net.UDPAddr{}
	if from != nil {
		addr.IP = from.IP
		addr.Port = from.Port
	}
	if env.IP != "" {
		ip := net.ParseIP(env.IP)
		if ip == nil {
			return nil, fmt.Errorf("invalid ip %q", env.IP)
		}
		addr.IP = ip
	}
	if env.Port != "" {
		port, err := strconv.Atoi(string(env.Port))
		if err != nil || port < 1 || port > 65535 {
			return nil, fmt.Errorf("invalid port %q", env.Port)
		}
		addr.Port = port
	}
	if addr.IP == nil || addr.Port == 0 {
		return nil, fmt.Errorf("incomplete address")
	}
	return addr, nil
}

func addrString(a *net.UDPAddr) string {
	if a == nil {
		return ""
	}
	return a.String()
}

// SetLogger sets the logger for the bridge.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()

	if b.health != nil {
		b.health.setLogger(logger)
	}
}

func (b *Bridge) getLogger() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	return b.logger
}

// logInfo logs an info message if logger is set.
func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

// logWarn logs a warning if logger is set.
func (b *Bridge) logWarn(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

// logError logs an error message if logger is set.
func (b *Bridge) logError(msg string, err error) {
	if logger := b.getLogger(); logger != nil {
		logger.Error(msg, "error", err)
	}
}

// logDebug logs a debug message if logger is set.
func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}
