package diagnostics

import (
	"context"
	"time"

	"codeberg.org/mutker/powerdash/internal/errors"
	"codeberg.org/mutker/powerdash/internal/logger"
	"github.com/google/uuid"
)

type service struct {
	repo    Repository
	cfg     Config
	session string
}

type noopJournal struct {
	session string
}

// NewJournal returns a sqlite-backed journal, or a no-op one when disabled.
func NewJournal(cfg Config, log logger.Logger) (Journal, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, errFactory.Wrap(ErrInvalidConfig, err)
	}

	session := uuid.NewString()

	if !cfg.Enabled {
		log.Debug().Msg("Diagnostics journal disabled, using no-op journal")
		return &noopJournal{session: session}, nil
	}

	repo, err := NewRepository(cfg, log)
	if err != nil {
		return nil, err
	}

	log.Debug().
		Str("db_path", cfg.DBPath).
		Str("session", session).
		Msg("Diagnostics journal initialized")

	return &service{repo: repo, cfg: cfg, session: session}, nil
}

func (s *service) Record(ctx context.Context, event *Event) error {
	errFactory := errors.New()

	if event == nil || event.Source == "" || event.Kind == "" {
		return errFactory.New(ErrInvalidEvent)
	}

	select {
	case <-ctx.Done():
		return errFactory.Wrap(errors.ErrCanceled, ctx.Err())
	default:
	}

	e := *event
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	e.Session = s.session

	return s.repo.Record(&e)
}

func (s *service) Session() string {
	return s.session
}

func (s *service) Recent(limit int) ([]Event, error) {
	return s.repo.Recent(limit)
}

func (s *service) Close() error {
	if err := s.repo.Close(); err != nil {
		return errors.New().Wrap(ErrStorageClose, err)
	}
	return nil
}

func (*noopJournal) Record(context.Context, *Event) error {
	return nil
}

func (*noopJournal) Recent(int) ([]Event, error) {
	return nil, nil
}

func (n *noopJournal) Session() string {
	return n.session
}

func (*noopJournal) Close() error {
	return nil
}
