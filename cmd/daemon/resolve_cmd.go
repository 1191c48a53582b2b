// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ManuGH/tunegate/internal/resolver"
)

type outcomeView struct {
	Source     string `json:"source"`
	Succeeded  bool   `json:"succeeded"`
	Candidates int    `json:"candidates"`
	Error      string `json:"error,omitempty"`
}

type resolutionView struct {
	*resolver.Resolution
	Outcomes []outcomeView `json:"outcomes"`
}

func newResolveCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <videoId>",
		Short: "Resolve audio stream candidates and print the attempt trail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := opts.loadConfig()
			if err != nil {
				return err
			}
			p, err := buildPipeline(cfg)
			if err != nil {
				return err
			}

			res, resolveErr := p.resolver.Resolve(cmd.Context(), args[0])
			if res != nil {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(newResolutionView(res)); err != nil {
					return err
				}
			}
			if resolveErr != nil {
				return fmt.Errorf("resolve %s: %w", args[0], resolveErr)
			}
			return nil
		},
	}
}

func newResolutionView(res *resolver.Resolution) resolutionView {
	v := resolutionView{Resolution: res, Outcomes: make([]outcomeView, 0, len(res.Outcomes))}
	for _, o := range res.Outcomes {
		v.Outcomes = append(v.Outcomes, outcomeView{
			Source:     o.Source,
			Succeeded:  o.Succeeded,
			Candidates: len(o.Candidates),
			Error:      o.FailureReason(),
		})
	}
	return v
}
