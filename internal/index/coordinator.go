// Package index turns component changes into facet calls and checks that
// search indexes still match storage.
package index

import (
	"context"
	"log/slog"
	"sync"

	"github.com/Aman-CERP/reposync/internal/storage"
)

// Target is the facet surface the coordinator drives.
type Target interface {
	BulkPut(ctx context.Context, ids []storage.EntityID) error
	Delete(ctx context.Context, id storage.EntityID) error
}

// Resolver returns the target for a repository, or false when it is not managed.
type Resolver func(repository string) (Target, bool)

// HandleResult summarizes one HandleEvents call.
type HandleResult struct {
	// Indexed is the number of components handed to BulkPut.
	Indexed int
	// Deleted is the number of documents deleted.
	Deleted int
	// Failed is the number of events that could not be applied.
	Failed int
}

// Coordinator applies batches of component events to their repositories' facets.
type Coordinator struct {
	resolve Resolver
	mu      sync.Mutex
}

// NewCoordinator creates a coordinator that looks facets up through resolve.
func NewCoordinator(resolve Resolver) *Coordinator {
	return &Coordinator{resolve: resolve}
}

// HandleEvents coalesces events, then issues one BulkPut per repository for created and
// updated components and one Delete per removed component. Failures are logged and the
// remaining events are still applied.
func (c *Coordinator) HandleEvents(ctx context.Context, events []ComponentEvent) (*HandleResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := &HandleResult{}
	events = Coalesce(events)

	upserts := make(map[string][]storage.EntityID)
	var repositories []string
	var deletes []ComponentEvent

	for _, event := range events {
		switch event.Operation {
		case OpCreate, OpUpdate:
			if _, ok := upserts[event.Repository]; !ok {
				repositories = append(repositories, event.Repository)
			}
			upserts[event.Repository] = append(upserts[event.Repository], event.ComponentID)
		case OpDelete:
			deletes = append(deletes, event)
		}
	}

	for _, repository := range repositories {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		ids := upserts[repository]
		target, ok := c.resolve(repository)
		if !ok {
			slog.Warn("events_for_unknown_repository",
				slog.String("repository", repository),
				slog.Int("events", len(ids)))
			result.Failed += len(ids)
			continue
		}

		if err := target.BulkPut(ctx, ids); err != nil {
			slog.Warn("failed to index components",
				slog.String("repository", repository),
				slog.Int("components", len(ids)),
				slog.String("error", err.Error()))
			result.Failed += len(ids)
			continue
		}
		result.Indexed += len(ids)
	}

	for _, event := range deletes {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		target, ok := c.resolve(event.Repository)
		if !ok {
			slog.Warn("events_for_unknown_repository",
				slog.String("repository", event.Repository),
				slog.Int("events", 1))
			result.Failed++
			continue
		}

		if err := target.Delete(ctx, event.ComponentID); err != nil {
			slog.Warn("failed to delete component document",
				slog.String("repository", event.Repository),
				slog.String("component_id", event.ComponentID.String()),
				slog.String("error", err.Error()))
			result.Failed++
			continue
		}
		result.Deleted++
	}

	slog.Debug("events_handled",
		slog.Int("events", len(events)),
		slog.Int("indexed", result.Indexed),
		slog.Int("deleted", result.Deleted),
		slog.Int("failed", result.Failed))

	return result, nil
}
