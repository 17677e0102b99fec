package services

import (
	"time"

	"github.com/basket/appcd/internal/dispatcher"
)

// Time is a HandlerFunc for a plugin-mounted "/time" route, the
// built-in demo plugin referenced in spec.md §1's example path
// ("/plugin/1.0.0/time"). It writes the current RFC3339 timestamp.
func Time(ctx *dispatcher.Context, next dispatcher.Next) (any, error) {
	ctx.Response.Write(200, time.Now().UTC().Format(time.RFC3339))
	return nil, nil
}
