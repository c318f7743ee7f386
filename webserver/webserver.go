// Package webserver implements the status server of the videortc
// command.
package webserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pion/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jech/videortc/mjpeg"
	"github.com/jech/videortc/player"
)

// Player is the part of the player exposed over HTTP.
type Player interface {
	Status() player.Status
	Reconnect()
}

// Frames yields the latest raw frame, if any.
type Frames interface {
	Latest() *mjpeg.Frame
}

type Server struct {
	Address  string
	Player   Player
	Frames   Frames
	Gatherer prometheus.Gatherer
	// Recordings, if not empty, is served under /recordings/.
	Recordings string
	Logger     logging.LeveledLogger
}

func (s *Server) logger() logging.LeveledLogger {
	if s.Logger == nil {
		return logging.NewDefaultLoggerFactory().NewLogger("webserver")
	}
	return s.Logger
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/status.json", s.statusHandler)
	r.Head("/status.json", s.statusHandler)
	r.Post("/reconnect", s.reconnectHandler)
	r.Get("/frame.jpg", s.frameHandler)
	r.Head("/frame.jpg", s.frameHandler)
	if s.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(
			s.Gatherer, promhttp.HandlerOpts{},
		))
	}
	if s.Recordings != "" {
		r.Get("/recordings", func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r,
				"/recordings/", http.StatusPermanentRedirect)
		})
		r.Handle("/recordings/*", http.StripPrefix("/recordings/",
			http.FileServer(http.Dir(s.Recordings)),
		))
	}
	return r
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("content-type", "application/json")
	w.Header().Set("cache-control", "no-cache")
	if r.Method == "HEAD" {
		return
	}
	e := json.NewEncoder(w)
	err := e.Encode(s.Player.Status())
	if err != nil {
		s.logger().Warnf("status: %v", err)
	}
}

func (s *Server) reconnectHandler(w http.ResponseWriter, r *http.Request) {
	s.Player.Reconnect()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) frameHandler(w http.ResponseWriter, r *http.Request) {
	var frame *mjpeg.Frame
	if s.Frames != nil {
		frame = s.Frames.Latest()
	}
	if frame == nil || frame.Image == nil {
		http.Error(w, "no frame", http.StatusNotFound)
		return
	}

	etag := fmt.Sprintf("\"%v-%v\"", frame.Seqno, frame.Time.UnixNano())
	w.Header().Set("ETag", etag)
	w.Header().Set("cache-control", "no-cache")
	if checkPreconditions(w, r, etag) {
		return
	}
	w.Header().Set("content-type", "image/jpeg")
	w.Header().Set("last-modified",
		frame.Time.UTC().Format(http.TimeFormat))
	if r.Method == "HEAD" {
		return
	}
	w.Write(frame.Data)
}

// ListenAndServe runs the server until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.Address,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctx2, cancel := context.WithTimeout(
			context.Background(), 2*time.Second,
		)
		defer cancel()
		server.Shutdown(ctx2)
	}()

	s.logger().Infof("status server listening on %v", s.Address)
	err := server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Check verifies that the recordings directory can be served.
func (s *Server) Check() error {
	if s.Recordings == "" {
		return nil
	}
	fi, err := os.Stat(s.Recordings)
	if err != nil {
		return err
	}
	if !fi.IsDir() {
		return fmt.Errorf("%v: not a directory", s.Recordings)
	}
	return nil
}
