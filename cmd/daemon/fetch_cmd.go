// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/google/renameio/v2"
	"github.com/spf13/cobra"

	"github.com/ManuGH/tunegate/internal/fetcher"
)

func newFetchCmd(opts *rootOptions) *cobra.Command {
	var (
		output string
		mode   string
	)
	cmd := &cobra.Command{
		Use:   "fetch <url>",
		Short: "Download media from an allow-listed locator",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if output == "" {
				return errors.New("--output is required")
			}
			cfg, _, err := opts.loadConfig()
			if err != nil {
				return err
			}
			p, err := buildPipeline(cfg)
			if err != nil {
				return err
			}
			if _, err := p.fetcher.Authorize(args[0]); err != nil {
				return err
			}
			if mode == "" {
				mode = cfg.Fetcher.DefaultMode
			}

			var sess *fetcher.Session
			switch mode {
			case "bounded":
				sess, err = fetchBounded(cmd, p.fetcher, args[0], output)
			case "stream":
				sess, err = fetchStream(cmd, p.fetcher, args[0], output)
			default:
				return fmt.Errorf("unknown mode %q (want bounded or stream)", mode)
			}
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.ErrOrStderr(), "wrote %d bytes to %s (%s)\n", sess.Transferred, output, sess.Mode)
			return err
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "destination file, or - for stdout")
	cmd.Flags().StringVar(&mode, "mode", "", "bounded or stream (default from config)")
	return cmd
}

func fetchBounded(cmd *cobra.Command, f *fetcher.Fetcher, rawURL, output string) (*fetcher.Session, error) {
	res, err := f.Fetch(cmd.Context(), rawURL)
	if err != nil {
		return nil, err
	}
	if output == "-" {
		_, err = cmd.OutOrStdout().Write(res.Data)
		return res.Session, err
	}
	return res.Session, renameio.WriteFile(output, res.Data, 0o644)
}

// fetchStream writes into a pending file that only replaces output once the
// whole body arrived, so an aborted download never leaves a truncated file.
func fetchStream(cmd *cobra.Command, f *fetcher.Fetcher, rawURL, output string) (*fetcher.Session, error) {
	if output == "-" {
		return f.Stream(cmd.Context(), rawURL, writerSink{cmd.OutOrStdout()})
	}
	pending, err := renameio.NewPendingFile(output, renameio.WithPermissions(0o644))
	if err != nil {
		return nil, err
	}
	defer func() { _ = pending.Cleanup() }()

	sess, err := f.Stream(cmd.Context(), rawURL, writerSink{pending})
	if err != nil {
		return sess, err
	}
	return sess, pending.CloseAtomicallyReplace()
}

type writerSink struct {
	io.Writer
}

func (writerSink) Start(fetcher.Metadata) error { return nil }

var _ fetcher.Sink = writerSink{}

