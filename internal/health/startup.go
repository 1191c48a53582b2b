// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package health

import (
	"fmt"
	"net"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/ManuGH/tunegate/internal/config"
	"github.com/ManuGH/tunegate/internal/log"
	platformnet "github.com/ManuGH/tunegate/internal/platform/net"
)

// PerformStartupChecks fails fast on configurations that validate but cannot
// serve traffic, and warns about ones that will behave surprisingly.
func PerformStartupChecks(cfg config.Config) error {
	logger := log.WithComponent("startup-check")

	if err := checkListenAddr(logger, cfg.Server.ListenAddr); err != nil {
		return err
	}
	if err := checkUpstreams(logger, cfg); err != nil {
		return err
	}
	checkAllowList(logger, cfg.Fetcher)

	logger.Info().Str(log.FieldEvent, "startup.checks_passed").Msg("all startup checks passed")
	return nil
}

func checkListenAddr(logger zerolog.Logger, addr string) error {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid listen address %q: %w", addr, err)
	}
	n, err := strconv.Atoi(port)
	if err != nil || n < 0 || n > 65535 {
		return fmt.Errorf("invalid listen port %q in %q", port, addr)
	}
	logger.Debug().Str("addr", addr).Msg("listen address is valid")
	return nil
}

func checkUpstreams(logger zerolog.Logger, cfg config.Config) error {
	for _, raw := range append([]string{cfg.Resolver.InnertubeBase}, cfg.Resolver.Mirrors...) {
		if _, ok := platformnet.ParseDirectHTTPURL(raw); !ok {
			return fmt.Errorf("upstream %q must be an absolute http(s) url without credentials", platformnet.SanitizeURL(raw))
		}
	}
	if len(cfg.Resolver.Mirrors) == 0 {
		logger.Warn().
			Str(log.FieldEvent, "startup.no_mirrors").
			Msg("mirror pool is empty; resolution has no tertiary fallback")
	}
	if !cfg.Resolver.ExtractorEnabled {
		logger.Warn().
			Str(log.FieldEvent, "startup.extractor_disabled").
			Msg("secondary extractor strategy is disabled")
	}
	return nil
}

// checkAllowList warns about throttled suffixes that can never be fetched
// because the allow-list does not cover them.
func checkAllowList(logger zerolog.Logger, f config.FetcherConfig) {
	allowed, err := platformnet.NewSuffixAllowlist(f.AllowedHosts)
	if err != nil {
		return
	}
	for _, s := range f.ThrottledHosts {
		if !allowed.AllowsHost("probe." + s) {
			logger.Warn().
				Str(log.FieldEvent, "startup.throttled_not_allowed").
				Str(log.FieldHost, s).
				Msg("throttled host suffix is not in the fetcher allow-list")
		}
	}
}
