package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"osrd.dev/macro"
	"osrd.dev/macro/metrics"
	"osrd.dev/macro/nge"
)

var serveCmd = &cobra.Command{
	Use:   "serve <schedules.json>",
	Short: "Serves the conversion engine over HTTP",
	Args:  cobra.ExactArgs(1),
	RunE:  serve,
}

var listenAddr string

func init() {
	serveCmd.Flags().StringVarP(&listenAddr, "listen", "l", "", "HTTP listen address")
}

func serve(cmd *cobra.Command, args []string) error {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, loader, err := loadConfig()
	if err != nil {
		return err
	}
	if listenAddr == "" {
		listenAddr = cfg.Listen
	}
	if loader != nil {
		stop, err := loader.Watch()
		if err != nil {
			return err
		}
		defer stop()
	}

	session, err := newSession(cfg, args[0], cfg.Registry.Path)
	if err != nil {
		return err
	}
	session.Logf = func(format string, a ...any) {
		slog.Warn(fmt.Sprintf(format, a...))
	}

	// The session is single-threaded: document builds and edit events
	// both mutate the node store, so they share one mutex. Events are
	// additionally serialized through a channel to keep POST /events
	// fast.
	var mu sync.Mutex
	events := make(chan macro.EditEvent, 16)
	go func() {
		ctx := cmd.Context()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				mu.Lock()
				err := session.HandleEvent(ctx, ev.Event, ev.Document)
				mu.Unlock()
				if err != nil {
					metrics.EventErrors.Inc()
					slog.Warn("handling event",
						"object_type", ev.Event.ObjectType, "type", ev.Event.Type, "err", err)
				}
			}
		}
	}()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Post("/netzgrafik", func(w http.ResponseWriter, req *http.Request) {
		mu.Lock()
		doc, err := session.BuildNetzgrafik(req.Context())
		mu.Unlock()
		if err != nil {
			slog.Error("building document", "err", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(doc)
	})

	r.Post("/events", func(w http.ResponseWriter, req *http.Request) {
		var payload struct {
			Event    nge.Event     `json:"event"`
			Document *nge.Document `json:"document"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		events <- macro.EditEvent{Event: payload.Event, Document: payload.Document}
		w.WriteHeader(http.StatusAccepted)
	})

	slog.Info("listening", "addr", listenAddr)
	return http.ListenAndServe(listenAddr, r)
}
