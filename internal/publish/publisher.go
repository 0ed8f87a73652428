// Package publish forwards consolidated views and rejected artifacts to
// downstream consumers. Publication is best effort and never feeds back into
// the view.
package publish

import (
	"context"

	"controlroom/internal/snapshot"
)

type Publisher interface {
	PublishView(ctx context.Context, view *snapshot.ConsolidatedView) error
	PublishRejections(ctx context.Context, passID string, rejected []snapshot.SchemaError) error
	Close() error
}

// Nop is used when no broker is configured.
type Nop struct{}

func (Nop) PublishView(context.Context, *snapshot.ConsolidatedView) error { return nil }

func (Nop) PublishRejections(context.Context, string, []snapshot.SchemaError) error { return nil }

func (Nop) Close() error { return nil }
