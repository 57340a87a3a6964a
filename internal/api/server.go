package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dgnsrekt/vitals_relay/internal/ingest"
	"github.com/dgnsrekt/vitals_relay/internal/relay"
	"github.com/dgnsrekt/vitals_relay/internal/telemetry"
)

type Service interface {
	IngestPayload(ctx context.Context, source, contentType string, payload []byte) (telemetry.Snapshot, error)
	Latest() telemetry.Snapshot
	History() telemetry.History
	Status() ingest.Status
	Subscribe(conn relay.Conn) *relay.Subscriber
	Unsubscribe(sub *relay.Subscriber)
}

// Options tunes the HTTP surface. Zero values select the defaults.
type Options struct {
	MaxBodyBytes  int64
	WriteTimeout  time.Duration
	SSEHeartbeat  time.Duration
	CORSOrigins   []string
	StaticDir     string
	ServerVersion string
}

const (
	defaultMaxBodyBytes = 64 * 1024
	defaultWriteTimeout = 5 * time.Second
	defaultSSEHeartbeat = 15 * time.Second
)

func (o Options) withDefaults() Options {
	if o.MaxBodyBytes <= 0 {
		o.MaxBodyBytes = defaultMaxBodyBytes
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = defaultWriteTimeout
	}
	if o.SSEHeartbeat <= 0 {
		o.SSEHeartbeat = defaultSSEHeartbeat
	}
	if len(o.CORSOrigins) == 0 {
		o.CORSOrigins = []string{"*"}
	}
	if o.ServerVersion == "" {
		o.ServerVersion = "1.0.0"
	}
	return o
}

func NewServer(svc Service, opts Options) http.Handler {
	opts = opts.withDefaults()

	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(requestLogger)
	router.Use(middleware.Recoverer)
	router.Use(corsHandler(opts.CORSOrigins))

	cfg := huma.DefaultConfig("Vitals Relay API", opts.ServerVersion)
	cfg.DocsPath = ""
	// Responses stay plain JSON objects; no $schema links.
	cfg.CreateHooks = nil
	api := humachi.New(router, cfg)

	router.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if _, err := w.Write([]byte(docsHTML)); err != nil {
			slog.Debug("docs response write failed", "error", err)
		}
	})
	router.Get("/docs/stream", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if _, err := w.Write([]byte(streamDocsHTML)); err != nil {
			slog.Debug("stream docs response write failed", "error", err)
		}
	})

	registerIngestHandlers(api, svc, opts)
	registerQueryHandlers(api, svc)
	registerMiscHandlers(api, svc)

	router.Get("/api/stream", relay.SSEHandler(svc, opts.SSEHeartbeat, opts.WriteTimeout))
	router.Get("/ws", relay.WebSocketHandler(svc, opts.WriteTimeout))

	if opts.StaticDir != "" {
		router.Handle("/*", http.FileServer(http.Dir(opts.StaticDir)))
	}

	return router
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var coded *telemetry.CodedError
	if errors.As(err, &coded) {
		switch coded.Code {
		case telemetry.CodeMalformedInput:
			if coded.Cause != nil {
				return huma.Error400BadRequest(coded.Message, coded.Cause)
			}
			return huma.Error400BadRequest(coded.Message)
		default:
			return huma.Error500InternalServerError(fmt.Sprintf("%s: %s", coded.Code, coded.Message))
		}
	}
	return huma.Error500InternalServerError(err.Error())
}
