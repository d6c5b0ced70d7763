// Package notify sends error reports when a script run fails to start.
package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/mpataki/automenu/internal/models"
)

type Report struct {
	Message    string
	Script     models.ScriptRef
	Screenshot string
	At         time.Time
}

type Notifier interface {
	Notify(ctx context.Context, r Report) error
}

// LogNotifier writes reports to the application log. It is the default
// notifier when no mail transport is configured.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, r Report) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n.logger.ErrorContext(ctx, "script error report",
		"script", r.Script.Name,
		"path", r.Script.Path,
		"message", r.Message,
		"screenshot", r.Screenshot,
		"at", r.At,
	)
	return nil
}
