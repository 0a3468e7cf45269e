package internal

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/starford/mdbase/internal/docservice"
	"github.com/starford/mdbase/internal/index"
	"github.com/starford/mdbase/internal/lock"
	"github.com/starford/mdbase/internal/repository"
	"github.com/starford/mdbase/internal/search"
	"github.com/starford/mdbase/internal/storage"
	"github.com/starford/mdbase/internal/validate"
)

// Stack is the set of services every front end works with.
type Stack struct {
	Repo      *repository.Repository
	Locker    lock.Locker
	Docs      *docservice.Service
	Search    *search.Service
	Validator *validate.Engine
	// Index is nil when the SQLite mirror is disabled.
	Index index.DocumentIndex
}

// Open creates the repository directory if needed and wires the services for
// cfg. The index is opened but not synced.
func Open(cfg *Config, logger *slog.Logger) (*Stack, error) {
	if err := os.MkdirAll(cfg.Repository.Path, 0o755); err != nil {
		return nil, fmt.Errorf("create repository dir: %w", err)
	}

	disk, err := storage.NewDisk(cfg.Repository.Path)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	repo, err := repository.New(disk, repository.NewCache(), repository.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("init repository: %w", err)
	}

	locker, err := lock.New(disk.Root(), lock.Strategy(cfg.Repository.LockStrategy))
	if err != nil {
		return nil, fmt.Errorf("init lock: %w", err)
	}

	st := &Stack{Repo: repo, Locker: locker}
	docOpts := []docservice.Option{docservice.WithLogger(logger)}

	if cfg.SQLite.Enabled() {
		db, err := index.Open(cfg.SQLite.Path)
		if err != nil {
			return nil, fmt.Errorf("init index: %w", err)
		}
		st.Index = db
		docOpts = append(docOpts, docservice.WithIndex(db))
	}

	st.Docs = docservice.NewService(repo, locker, docOpts...)
	st.Search = search.NewService(repo)
	st.Validator = validate.New(repo, locker, validate.WithLogger(logger))

	logger.Debug("repository opened",
		slog.String("root", disk.Root()),
		slog.String("identity", repo.Identity()),
		slog.Bool("index", st.Index != nil))

	return st, nil
}

// Close releases the index, if any.
func (s *Stack) Close() error {
	if s.Index == nil {
		return nil
	}
	return s.Index.Close()
}
