package model

import "time"

const (
	HealthStatusOK       = "OK"
	HealthStatusDegraded = "DEGRADED"

	DatabaseConnected    = "connected"
	DatabaseDisconnected = "disconnected"
)

type Health struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Database  string    `json:"database"`
}

func (h Health) Healthy() bool {
	return h.Status == HealthStatusOK
}
