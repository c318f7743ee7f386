package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jech/videortc/codecs"
	"github.com/jech/videortc/ice"
)

func probeCmd() *cobra.Command {
	var relay bool
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Print the codecs announced to the gateway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, m := range []struct {
				name         string
				video, audio bool
			}{
				{"video,audio", true, true},
				{"video", true, false},
				{"audio", false, true},
			} {
				caps := codecs.Probe(codecs.Default, m.video, m.audio)
				fmt.Printf("%-12v %v\n", m.name, codecs.Announce(caps))
			}
			if !relay {
				return nil
			}
			c := readConfig()
			d, err := ice.RelayTest(c.ICE(), timeout)
			if err != nil {
				return fmt.Errorf("relay test: %w", err)
			}
			fmt.Printf("relay ok, %v\n", d)
			return nil
		},
	}
	cmd.Flags().BoolVar(&relay, "relay-test", false,
		"check that the configured TURN servers work")
	cmd.Flags().DurationVar(&timeout, "timeout", 20*time.Second,
		"relay test `timeout`")
	return cmd
}
