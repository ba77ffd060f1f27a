package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// SyncState describes the last history snapshot cached for a user.
type SyncState struct {
	UserID    string
	SyncedAt  time.Time
	ItemCount int
}
