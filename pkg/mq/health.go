package mq

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"
)

// Connectable is satisfied by Publisher and Consumer.
type Connectable interface {
	IsConnected() bool
}

// Disconnected returns the sorted names whose connection is closed.
func Disconnected(conns map[string]Connectable) []string {
	var names []string
	for name, c := range conns {
		if !c.IsConnected() {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// WatchConnections logs a warning each interval while any connection is down. Blocks until ctx is done.
func WatchConnections(ctx context.Context, interval time.Duration, conns map[string]Connectable, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if down := Disconnected(conns); len(down) > 0 {
				logger.Warn("MQ connections down", zap.Strings("connections", down))
			}
		}
	}
}
