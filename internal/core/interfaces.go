package core

import (
	"context"

	"github.com/postpilot/postpilot-go/internal/domain/model"
)

// This file contains the port definitions (hexagonal architecture) between
// the scheduler's service layer and its adapters. Services depend on these
// interfaces, never on concrete storage or transport implementations.

// JobStore is the persistence port for scheduled posting jobs. Both the
// relational and the file backend implement identical observable semantics.
type JobStore interface {
	// LoadAll reads every persisted job keyed by ID. Rows written by older
	// versions may lack fields; implementations fill the documented
	// defaults (status scheduled, priority normal, platform threads,
	// created_at falling back to the scheduled time).
	LoadAll(ctx context.Context) (map[string]*model.Job, error)

	// SaveAll atomically replaces persisted state with the given snapshot:
	// every entry is upserted and every persisted job absent from the
	// snapshot is deleted, all-or-nothing. An empty snapshot clears the
	// backend. No partial state is ever observable.
	SaveAll(ctx context.Context, jobs map[string]*model.Job) error

	// Healthy reports whether the backend is reachable.
	Healthy(ctx context.Context) error
}

// Poster publishes content to one platform on behalf of one account.
// Implementations convert transport failures into a failed PostResult
// rather than panicking; the returned error is reserved for context
// cancellation and programming errors.
type Poster interface {
	Post(ctx context.Context, accountID, content string) (model.PostResult, error)
}

// PosterFactory resolves the poster for a platform at dispatch time.
type PosterFactory interface {
	PosterFor(platform model.Platform) (Poster, error)
}

// EventPublisher delivers scheduler lifecycle events to subscribers.
// Delivery is best effort; a slow or dead subscriber never blocks the
// caller.
type EventPublisher interface {
	Publish(event model.Event)
}
