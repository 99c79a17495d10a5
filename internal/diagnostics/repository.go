package diagnostics

import (
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	"codeberg.org/mutker/powerdash/internal/errors"
	"codeberg.org/mutker/powerdash/internal/logger"
	_ "github.com/mattn/go-sqlite3"
)

// queueSize bounds the events waiting for the writer. Record drops events
// rather than block once it is full.
const queueSize = 256

type repository struct {
	db            *sql.DB
	logger        logger.Logger
	cfg           Config
	queue         chan op
	stateMu       sync.RWMutex
	closed        bool
	buffer        []*Event // owned by the writer goroutine
	flushTicker   *time.Ticker
	shutdownChan  chan struct{}
	flushDoneChan chan struct{}
	closeOnce     sync.Once
	closeErr      error
}

// op is either an event to buffer or a flush request.
type op struct {
	event   *Event
	flushed chan error
}

func NewRepository(cfg Config, log logger.Logger) (Repository, error) {
	errFactory := errors.New()

	if cfg.DBPath == "" {
		return nil, errFactory.New(ErrInvalidDBPath)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), defaultDirPerm); err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Path  string
			Error string
		}{
			Phase: "create_directory",
			Path:  cfg.DBPath,
			Error: err.Error(),
		})
	}

	dsn := cfg.DBPath + "?_journal=WAL&_auto_vacuum=2"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "open_database",
			Error: err.Error(),
		})
	}

	if err := ValidateAndUpdateSchema(db, cfg.DBPath, log); err != nil {
		db.Close()
		return nil, errFactory.Wrap(ErrStorageInit, err)
	}

	log.Info().
		Str("path", cfg.DBPath).
		Int("schema_version", SchemaVersion).
		Int("batch_size", cfg.BatchSize).
		Dur("batch_timeout", cfg.BatchTimeout).
		Msg("Diagnostics repository initialized")

	repo := &repository{
		db:            db,
		logger:        log,
		cfg:           cfg,
		queue:         make(chan op, queueSize),
		buffer:        make([]*Event, 0, cfg.BatchSize),
		shutdownChan:  make(chan struct{}),
		flushDoneChan: make(chan struct{}),
	}

	if cfg.BatchTimeout > 0 {
		repo.flushTicker = time.NewTicker(cfg.BatchTimeout)
	}
	go repo.writer()

	return repo, nil
}

// Record queues event for the writer goroutine. It never waits on sqlite.
func (r *repository) Record(event *Event) error {
	r.stateMu.RLock()
	defer r.stateMu.RUnlock()

	if r.closed {
		return errors.New().New(ErrClosed)
	}

	select {
	case r.queue <- op{event: event}:
		return nil
	default:
		return errors.New().WithData(ErrQueueFull, string(event.Kind))
	}
}

// Recent returns up to limit events, newest first. Buffered events are
// flushed before querying.
func (r *repository) Recent(limit int) ([]Event, error) {
	errFactory := errors.New()

	r.stateMu.RLock()
	defer r.stateMu.RUnlock()

	if r.closed {
		return nil, errFactory.New(ErrClosed)
	}

	// Queued behind every event recorded so far
	flushed := make(chan error, 1)
	r.queue <- op{flushed: flushed}
	if err := <-flushed; err != nil {
		return nil, err
	}

	rows, err := r.db.Query(recentEventsSQL, limit)
	if err != nil {
		return nil, errFactory.Wrap(ErrQueryFailed, err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			e        Event
			ts       int64
			duration int64
		)
		if err := rows.Scan(&ts, &e.Session, &e.Source, &e.Kind, &e.Detail, &duration); err != nil {
			return nil, errFactory.Wrap(ErrQueryFailed, err)
		}
		e.Timestamp = time.UnixMilli(ts)
		e.Duration = time.Duration(duration) * time.Millisecond
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errFactory.Wrap(ErrQueryFailed, err)
	}

	return events, nil
}

func (r *repository) Close() error {
	r.closeOnce.Do(func() {
		r.stateMu.Lock()
		r.closed = true
		r.stateMu.Unlock()

		close(r.shutdownChan)
		if r.flushTicker != nil {
			r.flushTicker.Stop()
		}
		<-r.flushDoneChan

		if _, err := r.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			r.closeErr = errors.New().WithData(ErrStorageClose, struct {
				Phase string
				Error string
			}{
				Phase: "checkpoint_wal",
				Error: err.Error(),
			})
		}

		if err := r.db.Close(); err != nil && r.closeErr == nil {
			r.closeErr = errors.New().WithData(ErrStorageClose, struct {
				Phase string
				Error string
			}{
				Phase: "close_database",
				Error: err.Error(),
			})
		}

		r.logger.Info().Msg("Diagnostics repository closed")
	})

	return r.closeErr
}

// writer owns the buffer and is the only goroutine that writes to sqlite.
func (r *repository) writer() {
	defer close(r.flushDoneChan)

	var tick <-chan time.Time
	if r.flushTicker != nil {
		tick = r.flushTicker.C
	}

	for {
		select {
		case o := <-r.queue:
			r.apply(o)
		case <-tick:
			_ = r.flush()
		case <-r.shutdownChan:
			for {
				select {
				case o := <-r.queue:
					r.apply(o)
				default:
					if err := r.flush(); err != nil {
						r.logger.Error().Err(err).Msg("Failed to flush diagnostics on close")
					}
					return
				}
			}
		}
	}
}

func (r *repository) apply(o op) {
	if o.flushed != nil {
		o.flushed <- r.flush()
		return
	}
	r.buffer = append(r.buffer, o.event)
	if len(r.buffer) >= r.cfg.BatchSize {
		_ = r.flush()
	}
}

func (r *repository) flush() error {
	if len(r.buffer) == 0 {
		return nil
	}

	errFactory := errors.New()

	tx, err := r.db.Begin()
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to begin transaction")
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	stmt, err := tx.Prepare(insertEventSQL)
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to prepare statement")
		if err := tx.Rollback(); err != nil {
			r.logger.Error().Err(err).Msg("Failed to roll back transaction")
		}
		return errFactory.Wrap(ErrTransactionFailed, err)
	}
	defer stmt.Close()

	for _, e := range r.buffer {
		if _, err := stmt.Exec(
			e.Timestamp.UnixMilli(),
			e.Session,
			string(e.Source),
			string(e.Kind),
			e.Detail,
			e.Duration.Milliseconds(),
		); err != nil {
			r.logger.Error().Err(err).Msg("Failed to execute insert")
			if err := tx.Rollback(); err != nil {
				r.logger.Error().Err(err).Msg("Failed to roll back transaction")
			}
			return errFactory.Wrap(ErrTransactionFailed, err)
		}
	}

	if err := tx.Commit(); err != nil {
		r.logger.Error().Err(err).Msg("Failed to commit transaction")
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	r.logger.Debug().Int("records", len(r.buffer)).Msg("Flushed diagnostics to database")
	r.buffer = r.buffer[:0]

	return nil
}
