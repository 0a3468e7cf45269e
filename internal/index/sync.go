package index

import (
	"context"
	"log/slog"

	"github.com/starford/mdbase/internal/checksum"
	"github.com/starford/mdbase/internal/graph"
	"github.com/starford/mdbase/internal/models"
	"github.com/starford/mdbase/internal/repository"
)

// Change kinds reported by Sync.
const (
	ChangeCreated = "created"
	ChangeUpdated = "updated"
	ChangeDeleted = "deleted"
)

// Change is one document the index had to touch.
type Change struct {
	Kind string `json:"kind"`
	Path string `json:"path"`
}

// Sync walks the repository and brings the index up to date:
//   - new/changed documents are upserted
//   - documents gone from the repository are deleted from the index
//   - the edge table is rebuilt from the current relationship graph
func Sync(ctx context.Context, db DocumentIndex, repo *repository.Repository, logger *slog.Logger) ([]Change, error) {
	corpus, err := graph.Load(ctx, repo)
	if err != nil {
		return nil, err
	}
	checksums, err := db.AllChecksums()
	if err != nil {
		return nil, err
	}

	var changes []Change
	seen := make(map[string]struct{}, len(corpus.Records))
	for _, rec := range corpus.Records {
		seen[rec.Path] = struct{}{}

		data, err := repo.FS().ReadFile(rec.ContentPath)
		if err != nil {
			logger.Warn("sync: read failed", slog.String("path", rec.ContentPath), slog.String("error", err.Error()))
			continue
		}
		old, known := checksums[rec.Path]
		if known && old == checksum.Sum(data) {
			continue
		}
		if err := IndexRecord(db, rec, corpus.TitleField(rec.Document.Collection()), data); err != nil {
			logger.Warn("sync: index failed", slog.String("path", rec.Path), slog.String("error", err.Error()))
			continue
		}
		kind := ChangeUpdated
		if !known {
			kind = ChangeCreated
		}
		changes = append(changes, Change{Kind: kind, Path: rec.Path})
		logger.Debug("sync: indexed", slog.String("path", rec.Path))
	}

	// Remove stale entries.
	for p := range checksums {
		if _, ok := seen[p]; ok {
			continue
		}
		if err := db.DeleteDocument(p); err != nil {
			logger.Warn("sync: delete failed", slog.String("path", p), slog.String("error", err.Error()))
			continue
		}
		changes = append(changes, Change{Kind: ChangeDeleted, Path: p})
		logger.Debug("sync: removed stale", slog.String("path", p))
	}

	if err := db.ReplaceEdges(graph.Build(corpus, "").Edges); err != nil {
		return changes, err
	}
	return changes, nil
}

// IndexRecord upserts rec, whose content file holds data.
func IndexRecord(db DocumentIndex, rec models.Record, titleField string, data []byte) error {
	return db.UpsertDocument(DocumentRow{
		Path:       rec.Path,
		ID:         rec.Document.ID(),
		Collection: rec.Document.Collection(),
		Title:      rec.Document.DisplayName(titleField),
		Checksum:   checksum.Sum(data),
		Metadata:   rec.Document.Metadata,
		UpdatedAt:  rec.FileInfo.ModTime,
	}, rec.Document.Content)
}
