package aqara

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/ipv4"
)

// Protocol network defaults.
const (
	DefaultMulticastGroup = "224.0.0.50"
	DefaultMulticastPort  = 4321
	DefaultListenPort     = 9898

	// readBufferSize comfortably exceeds the largest gateway datagram.
	readBufferSize = 4096

	// defaultWriteTimeout bounds a single UDP write.
	defaultWriteTimeout = 2 * time.Second
)

// Packet is one received datagram.
type Packet struct {
	Data       []byte
	From       *net.UDPAddr
	ReceivedAt time.Time
}

// TransportStats holds transport counters.
type TransportStats struct {
	PacketsRx    uint64
	PacketsTx    uint64
	ErrorsTotal  uint64
	LastActivity time.Time
	Open         bool
}

// Transport sends and receives gateway datagrams.
// This allows mocking the socket in tests.
type Transport interface {
	Send(ctx context.Context, addr *net.UDPAddr, payload []byte) error
	SetOnPacket(callback func(Packet))
	Stats() TransportStats
	Close() error
}

// Ensure UDPTransport implements Transport.
var _ Transport = (*UDPTransport)(nil)

// UDPConfig configures the UDP socket.
type UDPConfig struct {
	// ListenPort is the local port gateways report to. Default: 9898.
	ListenPort int

	// MulticastGroup is joined on the listening socket. Default: 224.0.0.50.
	MulticastGroup string

	// Interface optionally names the network interface used for multicast.
	Interface string
}

// closeOnce is a channel that can be closed exactly once.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

// UDPTransport is a UDP socket bound to the report port and joined to the
// gateway multicast group.
//
// Thread Safety: all methods are safe for concurrent use. The packet
// callback runs on the receive goroutine and must hand work off quickly.
type UDPTransport struct {
	cfg   UDPConfig
	conn  *net.UDPConn
	pc    *ipv4.PacketConn
	ifi   *net.Interface
	group net.IP

	onPacket   func(Packet)
	callbackMu sync.RWMutex

	done *closeOnce
	wg   sync.WaitGroup

	logger   Logger
	loggerMu sync.RWMutex

	packetsRx    atomic.Uint64
	packetsTx    atomic.Uint64
	errorsTotal  atomic.Uint64
	lastActivity atomic.Int64
}

// ListenUDP opens the socket, joins the multicast group and starts the
// receive goroutine.
func ListenUDP(cfg UDPConfig) (*UDPTransport, error) {
	if cfg.ListenPort == 0 {
		cfg.ListenPort = DefaultListenPort
	}
	if cfg.MulticastGroup == "" {
		cfg.MulticastGroup = DefaultMulticastGroup
	}

	group := net.ParseIP(cfg.MulticastGroup)
	if group == nil || !group.IsMulticast() {
		return nil, fmt.Errorf("invalid multicast group %q", cfg.MulticastGroup)
	}

	var ifi *net.Interface
	if cfg.Interface != "" {
		var err error
		ifi, err = net.InterfaceByName(cfg.Interface)
		if err != nil {
			return nil, fmt.Errorf("looking up interface %q: %w", cfg.Interface, err)
		}
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: cfg.ListenPort})
	if err != nil {
		return nil, fmt.Errorf("listening on udp port %d: %w", cfg.ListenPort, err)
	}

	pc := ipv4.NewPacketConn(conn)
	if err := pc.JoinGroup(ifi, &net.UDPAddr{IP: group}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("joining multicast group %s: %w", group, err)
	}
	if ifi != nil {
		if err := pc.SetMulticastInterface(ifi); err != nil {
			conn.Close()
			return nil, fmt.Errorf("setting multicast interface: %w", err)
		}
	}
	// Our own whois would otherwise come straight back.
	_ = pc.SetMulticastLoopback(false) //nolint:errcheck // unsupported on some platforms

	t := &UDPTransport{
		cfg:   cfg,
		conn:  conn,
		pc:    pc,
		ifi:   ifi,
		group: group,
		done:  newCloseOnce(),
	}
	t.lastActivity.Store(time.Now().Unix())

	t.wg.Add(1)
	go t.receiveLoop()

	return t, nil
}

// receiveLoop reads datagrams until Close is called.
func (t *UDPTransport) receiveLoop() {
	defer t.wg.Done()

	buf := make([]byte, readBufferSize)
	for {
		n, from, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			if t.isClosed() || errors.Is(err, net.ErrClosed) {
				return
			}
			t.errorsTotal.Add(1)
			t.logError("udp read failed", err)
			continue
		}

		t.packetsRx.Add(1)
		t.lastActivity.Store(time.Now().Unix())

		data := make([]byte, n)
		copy(data, buf[:n])
		t.deliver(Packet{Data: data, From: from, ReceivedAt: time.Now()})
	}
}

// deliver invokes the callback with panic recovery.
func (t *UDPTransport) deliver(p Packet) {
	t.callbackMu.RLock()
	cb := t.onPacket
	t.callbackMu.RUnlock()
	if cb == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			t.errorsTotal.Add(1)
			t.logError("packet callback panicked", fmt.Errorf("panic: %v", r))
		}
	}()
	cb(p)
}

// Send writes one datagram to addr.
func (t *UDPTransport) Send(ctx context.Context, addr *net.UDPAddr, payload []byte) error {
	if t.isClosed() {
		return ErrTransportClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	deadline := time.Now().Add(defaultWriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := t.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}

	if _, err := t.conn.WriteToUDP(payload, addr); err != nil {
		t.errorsTotal.Add(1)
		return fmt.Errorf("udp write to %s: %w", addr, err)
	}

	t.packetsTx.Add(1)
	t.lastActivity.Store(time.Now().Unix())
	return nil
}

// SetOnPacket sets the callback for received datagrams.
func (t *UDPTransport) SetOnPacket(callback func(Packet)) {
	t.callbackMu.Lock()
	t.onPacket = callback
	t.callbackMu.Unlock()
}

// SetLogger sets the logger for this transport.
func (t *UDPTransport) SetLogger(logger Logger) {
	t.loggerMu.Lock()
	t.logger = logger
	t.loggerMu.Unlock()
}

// LocalAddr returns the bound socket address.
func (t *UDPTransport) LocalAddr() net.Addr {
	return t.conn.LocalAddr()
}

// Stats returns current counters.
func (t *UDPTransport) Stats() TransportStats {
	return TransportStats{
		PacketsRx:    t.packetsRx.Load(),
		PacketsTx:    t.packetsTx.Load(),
		ErrorsTotal:  t.errorsTotal.Load(),
		LastActivity: time.Unix(t.lastActivity.Load(), 0),
		Open:         !t.isClosed(),
	}
}

// Close leaves the multicast group and closes the socket.
// Safe to call multiple times.
func (t *UDPTransport) Close() error {
	if t.isClosed() {
		return nil
	}
	t.done.Close()

	_ = t.pc.LeaveGroup(t.ifi, &net.UDPAddr{IP: t.group}) //nolint:errcheck // best-effort on shutdown
	err := t.conn.Close()
	t.wg.Wait()
	return err
}

func (t *UDPTransport) isClosed() bool {
	select {
	case <-t.done.Done():
		return true
	default:
		return false
	}
}

func (t *UDPTransport) logError(msg string, err error) {
	t.loggerMu.RLock()
	logger := t.logger
	t.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
