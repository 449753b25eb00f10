package store

import (
	"context"
	"fmt"
	"time"

	"github.com/mikeusry/southland-platform-sub000/pkg/kvstore"
)

// RunRetention sweeps expired entries from store every interval until ctx is
// cancelled. interval <= 0 returns immediately.
func RunRetention(ctx context.Context, st kvstore.Store, interval time.Duration, onSweep func(removed int, err error)) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := st.Cleanup(ctx)
			if onSweep != nil {
				onSweep(n, err)
			}
		}
	}
}

// DBSizeBytes returns the database size in bytes
func (s *SQLiteStore) DBSizeBytes() (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var pageCount int64
	var pageSize int64

	err := s.db.QueryRow("PRAGMA page_count").Scan(&pageCount)
	if err != nil {
		return 0, fmt.Errorf("failed to get page count: %w", err)
	}

	err = s.db.QueryRow("PRAGMA page_size").Scan(&pageSize)
	if err != nil {
		return 0, fmt.Errorf("failed to get page size: %w", err)
	}

	return pageCount * pageSize, nil
}
