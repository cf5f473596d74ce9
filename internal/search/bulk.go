package search

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/reposync/internal/storage"
)

// buildDocuments runs doc for every component with at most workers in flight.
// Output order follows input order. Components whose document fails are logged and left out.
func buildDocuments(ctx context.Context, repository string, components []*storage.Component, id IDFunc, doc DocFunc, workers int) ([]Document, error) {
	if len(components) == 0 {
		return []Document{}, nil
	}

	built := make([]*Document, len(components))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, c := range components {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			docID := id(c)
			body, err := doc(c)
			if err != nil {
				slog.Warn("document_build_failed",
					slog.String("repository", repository),
					slog.String("doc_id", docID),
					slog.String("error", err.Error()))
				return nil
			}

			built[i] = &Document{ID: docID, Body: body}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	docs := make([]Document, 0, len(built))
	for _, d := range built {
		if d != nil {
			docs = append(docs, *d)
		}
	}

	if skipped := len(components) - len(docs); skipped > 0 {
		slog.Debug("bulk_documents_skipped",
			slog.String("repository", repository),
			slog.Int("skipped", skipped))
	}

	return docs, nil
}
