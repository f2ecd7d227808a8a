// Package ledger keeps the most recent invocation metadata per tool. The
// in-memory map is the source of truth; persistence is batched and best
// effort, and the records are diagnostic only.
package ledger

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/harun/toolgate/internal/observability"
	"github.com/rs/zerolog"
)

const (
	// DefaultEmotion is recorded when the caller sent none
	DefaultEmotion = "neutral"
	// UnknownAgent is recorded when the caller did not identify itself
	UnknownAgent = "unknown"
)

// Record is the last invocation of one tool
type Record struct {
	Tool          string    `json:"tool"`
	LastEmotion   string    `json:"last_emotion"`
	LastInvokedAt time.Time `json:"last_invoked"`
	Agent         string    `json:"agent"`
}

// Store persists ledger records
type Store interface {
	// Load returns the latest record per tool
	Load() (map[string]Record, error)
	// Append persists records in order; later records win on reload
	Append(records []Record) error
	// Compact rewrites storage so it holds exactly the given records
	Compact(records map[string]Record) error
	Close() error
}

// Options configures a Ledger
type Options struct {
	// FlushInterval bounds how long a record stays unpersisted
	FlushInterval time.Duration
	// MaxPending forces an early flush once this many records are queued
	MaxPending int
}

// Ledger is the lock-guarded invocation ledger shared by all connections
type Ledger struct {
	mu      sync.RWMutex
	records map[string]Record
	pending []Record

	flushMu sync.Mutex
	store   Store

	flushInterval time.Duration
	maxPending    int
	kick          chan struct{}
	stop          chan struct{}
	done          chan struct{}
	startOnce     sync.Once
	closeOnce     sync.Once
	now           func() time.Time
	logger        zerolog.Logger
}

// Open loads existing records from store. A nil store keeps the ledger in memory only.
func Open(store Store, opts Options, logger zerolog.Logger) (*Ledger, error) {
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = time.Second
	}
	if opts.MaxPending <= 0 {
		opts.MaxPending = 256
	}

	l := &Ledger{
		records:       make(map[string]Record),
		store:         store,
		flushInterval: opts.FlushInterval,
		maxPending:    opts.MaxPending,
		kick:          make(chan struct{}, 1),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
		now:           time.Now,
		logger:        logger.With().Str("component", "ledger").Logger(),
	}

	if store != nil {
		records, err := store.Load()
		if err != nil {
			return nil, fmt.Errorf("failed to load ledger: %w", err)
		}
		for name, rec := range records {
			l.records[name] = rec
		}
		l.logger.Info().Int("count", len(records)).Msg("Ledger loaded")
	}

	return l, nil
}

// Record stores an invocation of toolName and queues it for persistence.
// Empty emotion and agent fall back to DefaultEmotion and UnknownAgent.
func (l *Ledger) Record(toolName, emotion, agent string) Record {
	if emotion == "" {
		emotion = DefaultEmotion
	}
	if agent == "" {
		agent = UnknownAgent
	}

	l.mu.Lock()
	rec := Record{
		Tool:          toolName,
		LastEmotion:   emotion,
		LastInvokedAt: l.now().UTC(),
		Agent:         agent,
	}
	l.records[toolName] = rec
	pending := 0
	if l.store != nil {
		l.pending = append(l.pending, rec)
		pending = len(l.pending)
	}
	l.mu.Unlock()

	if pending >= l.maxPending {
		select {
		case l.kick <- struct{}{}:
		default:
		}
	}

	return rec
}

// Get returns the record for toolName
func (l *Ledger) Get(toolName string) (Record, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	rec, ok := l.records[toolName]
	return rec, ok
}

// All returns every record ordered by tool name
func (l *Ledger) All() []Record {
	l.mu.RLock()
	out := make([]Record, 0, len(l.records))
	for _, rec := range l.records {
		out = append(out, rec)
	}
	l.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Tool < out[j].Tool
	})
	return out
}

// Flush writes queued records to the store. On failure the records are
// requeued ahead of newer ones, keeping only the latest record per tool.
func (l *Ledger) Flush() error {
	if l.store == nil {
		return nil
	}

	l.flushMu.Lock()
	defer l.flushMu.Unlock()

	l.mu.Lock()
	batch := l.pending
	l.pending = nil
	l.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	start := time.Now()
	if err := l.store.Append(batch); err != nil {
		l.mu.Lock()
		l.pending = latestPerTool(append(batch, l.pending...))
		l.mu.Unlock()
		observability.RecordLedgerFlush(time.Since(start), len(batch), false)
		return fmt.Errorf("failed to persist ledger: %w", err)
	}

	observability.RecordLedgerFlush(time.Since(start), len(batch), true)
	l.logger.Debug().Int("count", len(batch)).Msg("Ledger flushed")
	return nil
}

// latestPerTool drops every record superseded by a later one for the same
// tool, preserving the order of the survivors
func latestPerTool(records []Record) []Record {
	last := make(map[string]int, len(records))
	for i, rec := range records {
		last[rec.Tool] = i
	}
	if len(last) == len(records) {
		return records
	}

	out := make([]Record, 0, len(last))
	for i, rec := range records {
		if last[rec.Tool] == i {
			out = append(out, rec)
		}
	}
	return out
}

// Compact flushes and then rewrites the store from the in-memory records
func (l *Ledger) Compact() error {
	if l.store == nil {
		return nil
	}
	if err := l.Flush(); err != nil {
		return err
	}

	l.flushMu.Lock()
	defer l.flushMu.Unlock()

	l.mu.RLock()
	snapshot := make(map[string]Record, len(l.records))
	for name, rec := range l.records {
		snapshot[name] = rec
	}
	l.mu.RUnlock()

	if err := l.store.Compact(snapshot); err != nil {
		return fmt.Errorf("failed to compact ledger: %w", err)
	}

	l.logger.Info().Int("count", len(snapshot)).Msg("Ledger compacted")
	return nil
}

// Start runs the background flusher
func (l *Ledger) Start() {
	l.startOnce.Do(func() {
		go l.flushLoop()
	})
}

func (l *Ledger) flushLoop() {
	defer close(l.done)

	ticker := time.NewTicker(l.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
		case <-l.kick:
		case <-l.stop:
			return
		}
		if err := l.Flush(); err != nil {
			l.logger.Error().Err(err).Msg("Ledger flush failed")
		}
	}
}

// Close stops the flusher, writes what is still queued and closes the store
func (l *Ledger) Close() error {
	var err error
	l.closeOnce.Do(func() {
		// a ledger that was never started has no loop to wait for
		l.startOnce.Do(func() { close(l.done) })
		close(l.stop)
		<-l.done

		if flushErr := l.Flush(); flushErr != nil {
			err = flushErr
		}
		if l.store != nil {
			if closeErr := l.store.Close(); closeErr != nil && err == nil {
				err = fmt.Errorf("failed to close ledger store: %w", closeErr)
			}
		}
	})
	return err
}
