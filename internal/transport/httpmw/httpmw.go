// Package httpmw adapts the Dispatcher to a single HTTP middleware
// function (spec.md §4.6), for hosts that want to mount dispatch
// routes alongside their own handler chain instead of speaking the
// WebSocket protocol.
package httpmw

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/basket/appcd/internal/dispatcher"
)

// Middleware adapts an http.Handler chain to a Dispatcher. Build one
// with New and wrap the fallback handler with Wrap.
type Middleware struct {
	dispatcher *dispatcher.Dispatcher
	logger     *slog.Logger
}

// New builds a Middleware over d. A nil logger is replaced with a
// no-op sink.
func New(d *dispatcher.Dispatcher, logger *slog.Logger) *Middleware {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Middleware{dispatcher: d, logger: logger}
}

// Wrap returns an http.Handler that dispatches on d and falls through
// to next on NOT_FOUND (spec.md §4.6). HEAD requests bypass dispatch
// entirely and go straight to next.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			next.ServeHTTP(w, r)
			return
		}

		data := map[string]any{}
		if r.Method == http.MethodPut || r.Method == http.MethodPost {
			body, err := io.ReadAll(r.Body)
			if err != nil {
				http.Error(w, "read body", http.StatusBadRequest)
				return
			}
			if len(body) > 0 {
				if err := json.Unmarshal(body, &data); err != nil {
					http.Error(w, "invalid JSON body", http.StatusBadRequest)
					return
				}
			}
		}

		ctx, err := m.dispatcher.Call(r.URL.Path, data)
		if err != nil {
			tax := dispatcher.AsTaxonomy(err)
			if tax.StatusCode == dispatcher.StatusNotFound {
				next.ServeHTTP(w, r)
				return
			}
			m.writeStatus(w, int(tax.Status), tax.Error())
			return
		}

		status := int(ctx.Status)
		if status == 0 {
			status = http.StatusOK
		}
		m.writeResponse(w, status, ctx)
	})
}

func (m *Middleware) writeResponse(w http.ResponseWriter, status int, ctx *dispatcher.Context) {
	var body any
	select {
	case msg, ok := <-ctx.Response.C():
		if ok {
			body = msg.Body
			if msg.Status != 0 {
				status = int(msg.Status)
			}
		}
	default:
	}
	ctx.Response.Close()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		m.logger.Error("httpmw: encode response failed", "error", err)
	}
}

func (m *Middleware) writeStatus(w http.ResponseWriter, status int, message string) {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
