package app

import (
	"context"
	"log/slog"

	"sitealert/internal/events"
)

// publish emits event fire-and-forget; failures are logged and never reach the caller.
func publish(ctx context.Context, publisher events.Publisher, logger *slog.Logger, event events.Event) {
	if publisher == nil {
		return
	}
	if err := publisher.Publish(ctx, event); err != nil {
		logger.Warn("event publish failed",
			"kind", event.Kind,
			"org_id", event.OrgID,
			"site_id", event.SiteID,
			"error", err.Error(),
		)
	}
}
