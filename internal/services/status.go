// Package services holds the daemon's built-in handlers: a status
// call, an echo call, and a clock subscription, registered on the
// root Dispatcher by cmd/appcd. They exist both as a working example
// surface and as smoke-test fixtures.
package services

import (
	"log/slog"
	"time"

	"github.com/basket/appcd/internal/dispatcher"
)

// StatusInfo is the payload /status returns.
type StatusInfo struct {
	Healthy    bool   `json:"healthy"`
	UptimeSecs int64  `json:"uptime_seconds"`
	ConfigHash string `json:"config_fingerprint"`
}

// NewStatus returns a HandlerFunc for "/status" that reports uptime
// and the active config fingerprint, mirroring go-claw's gateway
// /healthz in spirit but over the Dispatcher instead of a bare HTTP
// handler.
func NewStatus(startedAt time.Time, configFingerprint func() string, logger *slog.Logger) dispatcher.HandlerFunc {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return func(ctx *dispatcher.Context, next dispatcher.Next) (any, error) {
		hash := ""
		if configFingerprint != nil {
			hash = configFingerprint()
		}
		ctx.Response.Write(200, StatusInfo{
			Healthy:    true,
			UptimeSecs: int64(time.Since(startedAt).Seconds()),
			ConfigHash: hash,
		})
		return nil, nil
	}
}
