// Package notifier is the outbound delivery boundary. The engine only
// depends on the Notifier interface; transports plug in behind it.
package notifier

import (
	"context"

	"github.com/hray3182/Cadence/internal/models"
)

type Notifier interface {
	Send(ctx context.Context, inst *models.Instance) error
}

// Nop discards every notification. Used in tests and when no transport is
// configured.
type Nop struct{}

func (Nop) Send(ctx context.Context, inst *models.Instance) error { return nil }
