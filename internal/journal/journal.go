package journal

import (
	"bufio"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const (
	DefaultBufferSize   = 1024
	DefaultMaxPerSec    = 1000
	DefaultMaxPerLobby  = 50
	BatchFlushSize      = 64
	BatchFlushInterval  = 100 * time.Millisecond
	LobbyLimiterCleanup = 5 * time.Minute
)

// Config controls journal capacity and output.
type Config struct {
	Path          string // empty disables file output
	BufferSize    int
	MaxPerSec     int
	MaxPerLobby   int // per lobby, per second
	FlushInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		BufferSize:    DefaultBufferSize,
		MaxPerSec:     DefaultMaxPerSec,
		MaxPerLobby:   DefaultMaxPerLobby,
		FlushInterval: BatchFlushInterval,
	}
}

// Journal is a bounded, rate-limited, asynchronous entry writer. Record
// never blocks the caller: when the ring is full the oldest entry is
// overwritten and counted as dropped.
type Journal struct {
	cfg Config

	mu   sync.Mutex
	ring []Entry
	head uint64 // next sequence to write
	tail uint64 // next sequence to flush

	global  *rate.Limiter
	lobbies sync.Map // map[string]*lobbyLimiter

	out     io.Writer
	file    *os.File
	outMu   sync.Mutex
	wg      sync.WaitGroup
	stop    chan struct{}
	stopped sync.Once
	running atomic.Bool

	total   atomic.Uint64
	dropped atomic.Uint64
}

type lobbyLimiter struct {
	limiter  *rate.Limiter
	lastUsed atomic.Int64
}

// New creates a journal. Call Start or StartWriter before recording.
func New(cfg Config) *Journal {
	d := DefaultConfig()
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = d.BufferSize
	}
	if cfg.MaxPerSec <= 0 {
		cfg.MaxPerSec = d.MaxPerSec
	}
	if cfg.MaxPerLobby <= 0 {
		cfg.MaxPerLobby = d.MaxPerLobby
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = d.FlushInterval
	}
	return &Journal{
		cfg:    cfg,
		ring:   make([]Entry, cfg.BufferSize),
		global: rate.NewLimiter(rate.Limit(cfg.MaxPerSec), max(1, cfg.MaxPerSec/10)),
		stop:   make(chan struct{}),
	}
}

// Start opens cfg.Path for append and starts the writer. With no path the
// journal still counts entries but writes nothing.
func (j *Journal) Start() error {
	if j.cfg.Path == "" {
		return j.StartWriter(io.Discard)
	}
	f, err := os.OpenFile(j.cfg.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return eris.Wrapf(err, "open journal %s", j.cfg.Path)
	}
	j.file = f
	return j.StartWriter(f)
}

// StartWriter starts the writer goroutines against w.
func (j *Journal) StartWriter(w io.Writer) error {
	if !j.running.CompareAndSwap(false, true) {
		return nil
	}
	j.out = w
	j.wg.Add(2)
	go j.writerLoop()
	go j.cleanupLoop()
	return nil
}

// Stop flushes pending entries and closes the file.
func (j *Journal) Stop() {
	j.stopped.Do(func() {
		if !j.running.Load() {
			return
		}
		close(j.stop)
		j.wg.Wait()
		j.running.Store(false)

		j.outMu.Lock()
		defer j.outMu.Unlock()
		if j.file != nil {
			if err := j.file.Close(); err != nil {
				log.Warn().Err(err).Msg("journal close failed")
			}
		}
	})
}

// Record queues e. It returns false when the journal is stopped or the
// entry was rate limited.
func (j *Journal) Record(e Entry) bool {
	if !j.running.Load() {
		return false
	}
	if !j.global.Allow() {
		j.dropped.Add(1)
		return false
	}
	if e.Lobby != "" && !j.lobbyLimiter(e.Lobby).Allow() {
		j.dropped.Add(1)
		return false
	}

	j.mu.Lock()
	size := uint64(len(j.ring))
	if j.head-j.tail >= size {
		j.tail++
		j.dropped.Add(1)
	}
	j.head++
	e.Sequence = j.head
	j.ring[(j.head-1)%size] = e
	j.mu.Unlock()

	j.total.Add(1)
	return true
}

func (j *Journal) lobbyLimiter(code string) *rate.Limiter {
	now := time.Now().UnixNano()
	if v, ok := j.lobbies.Load(code); ok {
		l := v.(*lobbyLimiter)
		l.lastUsed.Store(now)
		return l.limiter
	}
	l := &lobbyLimiter{limiter: rate.NewLimiter(rate.Limit(j.cfg.MaxPerLobby), max(1, j.cfg.MaxPerLobby/5))}
	l.lastUsed.Store(now)
	actual, _ := j.lobbies.LoadOrStore(code, l)
	return actual.(*lobbyLimiter).limiter
}

func (j *Journal) writerLoop() {
	defer j.wg.Done()

	ticker := time.NewTicker(j.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]Entry, 0, BatchFlushSize)
	for {
		select {
		case <-j.stop:
			for {
				batch = j.collect(batch[:0])
				if len(batch) == 0 {
					return
				}
				j.flush(batch)
			}
		case <-ticker.C:
			batch = j.collect(batch[:0])
			if len(batch) > 0 {
				j.flush(batch)
			}
		}
	}
}

func (j *Journal) cleanupLoop() {
	defer j.wg.Done()

	ticker := time.NewTicker(LobbyLimiterCleanup)
	defer ticker.Stop()

	for {
		select {
		case <-j.stop:
			return
		case <-ticker.C:
			j.cleanupLimiters(time.Now().Add(-LobbyLimiterCleanup))
		}
	}
}

func (j *Journal) cleanupLimiters(cutoff time.Time) {
	j.lobbies.Range(func(key, value any) bool {
		if value.(*lobbyLimiter).lastUsed.Load() < cutoff.UnixNano() {
			j.lobbies.Delete(key)
		}
		return true
	})
}

func (j *Journal) collect(batch []Entry) []Entry {
	j.mu.Lock()
	defer j.mu.Unlock()
	size := uint64(len(j.ring))
	for j.tail < j.head && len(batch) < BatchFlushSize {
		batch = append(batch, j.ring[j.tail%size])
		j.tail++
	}
	return batch
}

func (j *Journal) flush(batch []Entry) {
	j.outMu.Lock()
	defer j.outMu.Unlock()

	bw := bufio.NewWriter(j.out)
	enc := json.NewEncoder(bw)
	for _, e := range batch {
		if err := enc.Encode(e); err != nil {
			log.Debug().Err(err).Str("kind", string(e.Kind)).Msg("journal encode failed")
		}
	}
	if err := bw.Flush(); err != nil {
		log.Warn().Err(err).Msg("journal write failed")
	}
}

// Stats is a point-in-time view of journal counters.
type Stats struct {
	Total   uint64 `json:"total"`
	Dropped uint64 `json:"dropped"`
	Pending uint64 `json:"pending"`
	Running bool   `json:"running"`
}

func (j *Journal) Stats() Stats {
	j.mu.Lock()
	pending := j.head - j.tail
	j.mu.Unlock()
	return Stats{
		Total:   j.total.Load(),
		Dropped: j.dropped.Load(),
		Pending: pending,
		Running: j.running.Load(),
	}
}
