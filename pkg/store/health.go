package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// HealthStatus reports database connectivity and pool statistics.
type HealthStatus struct {
	Status          string `json:"status"`
	ResponseTimeMS  int64  `json:"response_time_ms"`
	OpenConnections int    `json:"open_connections"`
	InUse           int    `json:"in_use"`
	Idle            int    `json:"idle"`
	WaitCount       int64  `json:"wait_count"`
	MaxOpenConns    int    `json:"max_open_conns"`
}

// Health pings the database and returns pool statistics.
func Health(ctx context.Context, db *sql.DB) (*HealthStatus, error) {
	start := time.Now()
	err := db.PingContext(ctx)
	elapsed := time.Since(start).Milliseconds()

	stats := db.Stats()
	status := &HealthStatus{
		Status:          "healthy",
		ResponseTimeMS:  elapsed,
		OpenConnections: stats.OpenConnections,
		InUse:           stats.InUse,
		Idle:            stats.Idle,
		WaitCount:       stats.WaitCount,
		MaxOpenConns:    stats.MaxOpenConnections,
	}
	if err != nil {
		status.Status = "unhealthy"
		return status, fmt.Errorf("database ping failed: %w", err)
	}
	return status, nil
}
