package queue

import (
    "context"

    "github.com/iliyamo/clinic-api/internal/logger"
    "github.com/iliyamo/clinic-api/internal/model"
)

// Fallback records through Primary and, when that fails, through Secondary
// so an unavailable broker does not lose security events.
type Fallback struct {
    Primary   AuditWriter
    Secondary AuditWriter
}

func (f Fallback) Record(ctx context.Context, entry model.AuditLog) error {
    err := f.Primary.Record(ctx, entry)
    if err == nil {
        return nil
    }
    logger.Warn().Err(err).Str("event", entry.Event).Msg("event bus unavailable, writing audit log directly")
    return f.Secondary.Record(ctx, entry)
}
