package main

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/pion/logging"
	"github.com/spf13/cobra"

	"github.com/jech/videortc/config"
)

var configFile, logLevel string

func main() {
	rootCmd := &cobra.Command{
		Use:           "videortc",
		Short:         "Live camera player for streaming gateways",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configFile, "config",
		"videortc.json", "configuration `file`")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level",
		"", "log `level` (error, warn, info, debug, trace)")

	rootCmd.AddCommand(playCmd(), probeCmd(), signCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "videortc: %v\n", err)
		os.Exit(1)
	}
}

func readConfig() *config.Configuration {
	c, err := config.ReadFile(configFile)
	if err != nil {
		log.Fatalf("Read %v: %v", configFile, err)
	}
	return c
}

func parseLevel(s string) (logging.LogLevel, error) {
	switch strings.ToLower(s) {
	case "", "warn":
		return logging.LogLevelWarn, nil
	case "error":
		return logging.LogLevelError, nil
	case "info":
		return logging.LogLevelInfo, nil
	case "debug":
		return logging.LogLevelDebug, nil
	case "trace":
		return logging.LogLevelTrace, nil
	case "disabled":
		return logging.LogLevelDisabled, nil
	}
	return 0, fmt.Errorf("unknown log level %q", s)
}

func loggerFactory(c *config.Configuration) logging.LoggerFactory {
	level := logLevel
	if level == "" {
		level = c.LogLevel
	}
	l, err := parseLevel(level)
	if err != nil {
		log.Fatalf("%v", err)
	}
	f := logging.NewDefaultLoggerFactory()
	f.DefaultLogLevel = l
	return f
}
