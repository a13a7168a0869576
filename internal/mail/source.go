package mail

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrUnknownSource indicates an unrecognized source type in config.
	ErrUnknownSource = errors.New("unknown mail source")

	// ErrTokenMissing indicates a stored OAuth token is absent or unusable
	// and the mailbox has to be reconnected.
	ErrTokenMissing = errors.New("mailbox token missing, reconnect to continue")
)

// FetchOptions bounds a mailbox scan. Start and End are inclusive calendar
// days; adapters widen End by one day when their query API takes an
// exclusive upper bound.
type FetchOptions struct {
	Email       string
	Start       time.Time
	End         time.Time
	MaxMessages int
	IncludeBody bool
}

// Source fetches normalized messages from one mailbox provider.
type Source interface {
	Fetch(ctx context.Context, opts FetchOptions) ([]Message, error)
}
