package access

import "context"

// Recorder receives security-relevant activity. Implementations must be
// fire-and-forget: recording failures never fail the calling operation.
type Recorder interface {
	Record(ctx context.Context, entry AuditEntry)
}
