package ledger

import (
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Persistence backends accepted by NewStore
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// NewStore builds the persistence backend named by backend. The memory
// backend returns a nil Store.
func NewStore(backend, path string, logger zerolog.Logger) (Store, error) {
	switch backend {
	case BackendFile, "":
		store, err := NewFileStore(path, logger)
		if err != nil {
			return nil, err
		}
		return store, nil
	case BackendSQLite:
		store, err := NewSQLiteStore(path)
		if err != nil {
			return nil, err
		}
		return store, nil
	case BackendMemory:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown ledger backend: %s", backend)
	}
}

// ParseSchedule parses a five-field cron expression
func ParseSchedule(expr string) (cron.Schedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}
	return sched, nil
}

// ScheduleCompaction compacts the ledger on the given cron schedule until the
// returned stop function is called.
func (l *Ledger) ScheduleCompaction(expr string) (stop func(), err error) {
	sched, err := ParseSchedule(expr)
	if err != nil {
		return nil, err
	}

	c := cron.New()
	c.Schedule(sched, cron.FuncJob(func() {
		if err := l.Compact(); err != nil {
			l.logger.Error().Err(err).Msg("Scheduled ledger compaction failed")
		}
	}))
	c.Start()

	l.logger.Info().Str("schedule", expr).Msg("Ledger compaction scheduled")
	return func() {
		<-c.Stop().Done()
	}, nil
}
