package network

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Config tunes the UDP transport.
type Config struct {
	Addr          string
	Readers       int
	Writers       int
	QueueCapacity int // inbound packets waiting for the tick goroutine
	SendBuffer    int // outbound datagrams waiting for a writer
	MaxDatagram   int
	PacketRate    float64 // per client, packets per second
	PacketBurst   int
	IdleTimeout   time.Duration // 0 disables eviction
}

func DefaultConfig() Config {
	return Config{
		Addr:          ":4242",
		Readers:       2,
		Writers:       2,
		QueueCapacity: 4096,
		SendBuffer:    4096,
		MaxDatagram:   MaxDatagram,
		PacketRate:    120,
		PacketBurst:   60,
		IdleTimeout:   30 * time.Second,
	}
}

// Packet is one inbound datagram attributed to a client. Disconnected
// packets carry no payload and report that the transport evicted the client.
type Packet struct {
	ClientID     uint32
	Addr         netip.AddrPort
	Payload      []byte
	ReceivedAt   time.Time
	Disconnected bool
}

// Stats are cumulative transport counters.
type Stats struct {
	Clients        int    `json:"clients"`
	PacketsIn      uint64 `json:"packetsIn"`
	PacketsOut     uint64 `json:"packetsOut"`
	BytesIn        uint64 `json:"bytesIn"`
	BytesOut       uint64 `json:"bytesOut"`
	RateLimited    uint64 `json:"rateLimited"`
	QueueDropped   uint64 `json:"queueDropped"`
	SendDropped    uint64 `json:"sendDropped"`
	UnknownClients uint64 `json:"unknownClients"`
	WriteErrors    uint64 `json:"writeErrors"`
	Evicted        uint64 `json:"evicted"`
	QueueDepth     int    `json:"queueDepth"`
}

type datagram struct {
	addr netip.AddrPort
	data []byte
}

type sendRequest struct {
	client uint32
	data   []byte
}

type remote struct {
	addr     netip.AddrPort
	limiter  *rate.Limiter
	lastSeen time.Time
}

// registry is the client table. Only the lane goroutine touches it.
type registry struct {
	byAddr  map[netip.AddrPort]uint32
	byID    map[uint32]*remote
	nextID  uint32
	pending []uint32 // evicted clients whose Disconnected packet is not queued yet
}

// Transport is an asynchronous UDP endpoint. Reader goroutines feed raw
// datagrams to a single lane goroutine that owns the client table and
// issues every send; writer goroutines perform the socket writes. The tick
// goroutine talks to it only through Poll and Send, neither of which
// blocks.
type Transport struct {
	cfg Config
	log zerolog.Logger
	now func() time.Time

	conn    *net.UDPConn
	queue   *Queue[Packet]
	inbound chan datagram
	sends   chan sendRequest
	out     chan datagram

	group  *errgroup.Group
	cancel context.CancelFunc
	closed atomic.Bool
	once   sync.Once

	clients        atomic.Int64
	packetsIn      atomic.Uint64
	packetsOut     atomic.Uint64
	bytesIn        atomic.Uint64
	bytesOut       atomic.Uint64
	rateLimited    atomic.Uint64
	queueDropped   atomic.Uint64
	sendDropped    atomic.Uint64
	unknownClients atomic.Uint64
	writeErrors    atomic.Uint64
	evicted        atomic.Uint64
}

// Option configures a Transport.
type Option func(*Transport)

func WithLogger(l zerolog.Logger) Option {
	return func(t *Transport) { t.log = l }
}

// WithClock replaces time.Now for idle accounting.
func WithClock(now func() time.Time) Option {
	return func(t *Transport) { t.now = now }
}

func NewTransport(cfg Config, opts ...Option) *Transport {
	d := DefaultConfig()
	if cfg.Readers <= 0 {
		cfg.Readers = d.Readers
	}
	if cfg.Writers <= 0 {
		cfg.Writers = d.Writers
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = d.QueueCapacity
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = d.SendBuffer
	}
	if cfg.MaxDatagram <= 0 || cfg.MaxDatagram > MaxDatagram {
		cfg.MaxDatagram = MaxDatagram
	}
	if cfg.PacketRate <= 0 {
		cfg.PacketRate = d.PacketRate
	}
	if cfg.PacketBurst <= 0 {
		cfg.PacketBurst = d.PacketBurst
	}
	t := &Transport{
		cfg:     cfg,
		log:     zerolog.Nop(),
		now:     time.Now,
		queue:   NewQueue[Packet](cfg.QueueCapacity),
		inbound: make(chan datagram, cfg.QueueCapacity),
		sends:   make(chan sendRequest, cfg.SendBuffer),
		out:     make(chan datagram, cfg.SendBuffer),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start binds the socket and launches the I/O goroutines. They run until
// Stop is called or ctx is cancelled.
func (t *Transport) Start(ctx context.Context) error {
	if t.conn != nil {
		return eris.New("transport already started")
	}
	addr, err := net.ResolveUDPAddr("udp", t.cfg.Addr)
	if err != nil {
		return eris.Wrapf(err, "resolve %s", t.cfg.Addr)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return eris.Wrapf(err, "listen %s", t.cfg.Addr)
	}
	t.conn = conn

	ctx, t.cancel = context.WithCancel(ctx)
	g, ctx := errgroup.WithContext(ctx)
	t.group = g

	g.Go(func() error { return t.lane(ctx) })
	for range t.cfg.Readers {
		g.Go(func() error { return t.reader(ctx) })
	}
	for range t.cfg.Writers {
		g.Go(func() error { return t.writer(ctx) })
	}
	g.Go(func() error {
		<-ctx.Done()
		t.closed.Store(true)
		return t.conn.Close()
	})

	t.log.Info().Str("addr", conn.LocalAddr().String()).Int("readers", t.cfg.Readers).
		Int("writers", t.cfg.Writers).Msg("udp transport listening")
	return nil
}

// Stop closes the socket and waits for every I/O goroutine to exit.
func (t *Transport) Stop() error {
	var err error
	t.once.Do(func() {
		t.closed.Store(true)
		if t.cancel == nil {
			return
		}
		t.cancel()
		err = t.group.Wait()
		if errors.Is(err, net.ErrClosed) {
			err = nil
		}
	})
	return err
}

// Addr returns the bound address, or nil before Start.
func (t *Transport) Addr() net.Addr {
	if t.conn == nil {
		return nil
	}
	return t.conn.LocalAddr()
}

// Poll returns the next inbound packet without blocking.
func (t *Transport) Poll() (Packet, bool) {
	return t.queue.TryPop()
}

// Send queues payload for client. Unknown clients are detected on the lane,
// logged and dropped; Send itself only fails when the transport is closed or
// the payload cannot fit in a datagram.
func (t *Transport) Send(client uint32, payload []byte) error {
	if t.closed.Load() {
		return ErrTransportClosed
	}
	if len(payload) > t.cfg.MaxDatagram {
		return eris.Wrapf(ErrPayloadTooLarge, "%d bytes to client %d", len(payload), client)
	}
	select {
	case t.sends <- sendRequest{client: client, data: payload}:
	default:
		t.sendDropped.Add(1)
	}
	return nil
}

// ClientCount is the number of registered clients.
func (t *Transport) ClientCount() int {
	return int(t.clients.Load())
}

func (t *Transport) Stats() Stats {
	return Stats{
		Clients:        t.ClientCount(),
		PacketsIn:      t.packetsIn.Load(),
		PacketsOut:     t.packetsOut.Load(),
		BytesIn:        t.bytesIn.Load(),
		BytesOut:       t.bytesOut.Load(),
		RateLimited:    t.rateLimited.Load(),
		QueueDropped:   t.queueDropped.Load(),
		SendDropped:    t.sendDropped.Load(),
		UnknownClients: t.unknownClients.Load(),
		WriteErrors:    t.writeErrors.Load(),
		Evicted:        t.evicted.Load(),
		QueueDepth:     t.queue.Len(),
	}
}

func (t *Transport) reader(ctx context.Context) error {
	buf := make([]byte, t.cfg.MaxDatagram)
	for {
		n, addr, err := t.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if t.closed.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			t.log.Warn().Err(err).Msg("udp read failed")
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		select {
		case t.inbound <- datagram{addr: addr, data: data}:
		case <-ctx.Done():
			return nil
		default:
			t.queueDropped.Add(1)
		}
	}
}

func (t *Transport) writer(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case d := <-t.out:
			n, err := t.conn.WriteToUDPAddrPort(d.data, d.addr)
			if err != nil {
				if t.closed.Load() {
					return nil
				}
				t.writeErrors.Add(1)
				t.log.Warn().Err(err).Str("addr", d.addr.String()).Msg("udp write failed")
				continue
			}
			t.packetsOut.Add(1)
			t.bytesOut.Add(uint64(n))
		}
	}
}

// lane serializes client registration, rate limiting, eviction and send
// address lookup.
func (t *Transport) lane(ctx context.Context) error {
	r := &registry{
		byAddr: make(map[netip.AddrPort]uint32),
		byID:   make(map[uint32]*remote),
	}

	var sweep <-chan time.Time
	if t.cfg.IdleTimeout > 0 {
		ticker := time.NewTicker(max(t.cfg.IdleTimeout/4, 10*time.Millisecond))
		defer ticker.Stop()
		sweep = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d := <-t.inbound:
			t.receive(r, d)
		case req := <-t.sends:
			t.route(r, req)
		case <-sweep:
			t.evictIdle(r)
		}
	}
}

func (t *Transport) receive(r *registry, d datagram) {
	now := t.now()
	id, ok := r.byAddr[d.addr]
	if !ok {
		r.nextID++
		id = r.nextID
		r.byAddr[d.addr] = id
		r.byID[id] = &remote{
			addr:    d.addr,
			limiter: rate.NewLimiter(rate.Limit(t.cfg.PacketRate), t.cfg.PacketBurst),
		}
		t.clients.Store(int64(len(r.byID)))
		t.log.Debug().Uint32("client", id).Str("addr", d.addr.String()).Msg("client registered")
	}
	rem := r.byID[id]
	rem.lastSeen = now
	if !rem.limiter.AllowN(now, 1) {
		t.rateLimited.Add(1)
		return
	}
	t.packetsIn.Add(1)
	t.bytesIn.Add(uint64(len(d.data)))
	if !t.queue.TryPush(Packet{ClientID: id, Addr: d.addr, Payload: d.data, ReceivedAt: now}) {
		t.queueDropped.Add(1)
	}
}

func (t *Transport) route(r *registry, req sendRequest) {
	rem, ok := r.byID[req.client]
	if !ok {
		t.unknownClients.Add(1)
		t.log.Debug().Uint32("client", req.client).Msg("send to unknown client dropped")
		return
	}
	select {
	case t.out <- datagram{addr: rem.addr, data: req.data}:
	default:
		t.sendDropped.Add(1)
	}
}

func (t *Transport) forget(r *registry, client uint32) {
	rem, ok := r.byID[client]
	if !ok {
		return
	}
	delete(r.byID, client)
	delete(r.byAddr, rem.addr)
	t.clients.Store(int64(len(r.byID)))
}

func (t *Transport) evictIdle(r *registry) {
	cutoff := t.now().Add(-t.cfg.IdleTimeout)
	for id, rem := range r.byID {
		if rem.lastSeen.Before(cutoff) {
			t.forget(r, id)
			t.evicted.Add(1)
			r.pending = append(r.pending, id)
			t.log.Info().Uint32("client", id).Msg("idle client evicted")
		}
	}
	kept := r.pending[:0]
	for _, id := range r.pending {
		if !t.queue.TryPush(Packet{ClientID: id, Disconnected: true, ReceivedAt: t.now()}) {
			kept = append(kept, id)
		}
	}
	r.pending = kept
}
