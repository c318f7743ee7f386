package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jech/videortc/config"
	"github.com/jech/videortc/hls"
	"github.com/jech/videortc/limit"
	"github.com/jech/videortc/metrics"
	"github.com/jech/videortc/player"
	"github.com/jech/videortc/recorder"
	"github.com/jech/videortc/token"
	"github.com/jech/videortc/transport"
	"github.com/jech/videortc/webserver"
)

func playCmd() *cobra.Command {
	var mode, media, status, record, origin string
	var background bool

	cmd := &cobra.Command{
		Use:   "play [url]",
		Short: "Play a stream, recording what is received",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := readConfig()
			if len(args) > 0 {
				c.URL = args[0]
			}
			if mode != "" {
				c.Mode = mode
			}
			if media != "" {
				c.Media = media
			}
			if status != "" {
				c.Status = status
			}
			if record != "" {
				c.Recordings = record
			}
			if origin != "" {
				c.Origin = origin
			}
			if background {
				c.Background = true
			}
			if err := c.Validate(); err != nil {
				return err
			}
			if c.URL == "" {
				return errors.New("no URL given")
			}
			return play(c)
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "",
		"comma-separated transport `preferences`")
	cmd.Flags().StringVar(&media, "media", "",
		"comma-separated media `kinds`")
	cmd.Flags().StringVar(&status, "status", "",
		"status server `address`, e.g. :8080")
	cmd.Flags().StringVar(&record, "record", "",
		"recordings `directory`")
	cmd.Flags().StringVar(&origin, "origin", "",
		"`origin` for relative URLs")
	cmd.Flags().BoolVar(&background, "background", false,
		"never disconnect")
	return cmd
}

func play(c *config.Configuration) error {
	lf := loggerFactory(c)
	log := lf.NewLogger("videortc")

	if n, low := limit.Low(limit.MinNofile); low {
		log.Warnf("file descriptor limit is %v, "+
			"consider raising it to at least %v",
			n, limit.MinNofile)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(
			collectors.ProcessCollectorOpts{},
		),
	)
	m := metrics.New(metrics.WithRegistry(registry))

	directory := c.Recordings
	if directory == "" {
		directory = "recordings"
	}
	rec := &recorder.Recorder{
		Directory: directory,
		Name:      "videortc",
		Logger:    lf.NewLogger("recorder"),
	}
	defer rec.Close()

	var signer func(string) (string, error)
	if c.SignKey != nil {
		s, err := token.NewSigner(c.SignKey, c.SignIssuer)
		if err != nil {
			return err
		}
		s.Expiry = time.Duration(c.SignExpiry)
		signer = s.Sign
	}

	p := player.New(player.Config{
		URL:         c.URL,
		Origin:      c.Origin,
		Signer:      signer,
		Modes:       c.Modes(),
		Media:       c.ParsedMedia(),
		Background:  c.Background,
		ICE:         c.ICE(),
		MediaSource: rec.MediaSource(),
		HLS: &hls.Lazy{New: func() hls.Engine {
			return &hls.Fetcher{
				Segment: rec.Segment,
				Logger:  lf.NewLogger("hls"),
			}
		}},
		Surface:       rec,
		Backoff:       time.Duration(c.Backoff),
		Grace:         time.Duration(c.Grace),
		Metrics:       m,
		LoggerFactory: lf,
	})

	var active transport.Mode
	cancel := p.Subscribe(func(s player.Status) {
		if s.Active != active {
			active = s.Active
			log.Infof("channel %v, active transport %q",
				s.Channel, s.Active)
		}
	})
	defer cancel()

	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := p.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	if c.Status != "" {
		server := &webserver.Server{
			Address:    c.Status,
			Player:     p,
			Frames:     rec,
			Gatherer:   registry,
			Recordings: directory,
			Logger:     lf.NewLogger("webserver"),
		}
		g.Go(func() error {
			err := os.MkdirAll(directory, 0700)
			if err != nil {
				return err
			}
			err = server.Check()
			if err != nil {
				return err
			}
			return server.ListenAndServe(ctx)
		})
	}
	return g.Wait()
}
