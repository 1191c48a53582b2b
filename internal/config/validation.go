// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	platformnet "github.com/ManuGH/tunegate/internal/platform/net"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks struct tags first, then the rules tags cannot express.
func Validate(cfg Config) error {
	if err := structValidator().Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q (%s)", fe.Namespace(), fe.Tag(), fe.Param()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return err
	}

	if _, err := platformnet.NewSuffixAllowlist(cfg.Fetcher.AllowedHosts); err != nil {
		return fmt.Errorf("fetcher.allowedHosts: %w", err)
	}
	if _, err := platformnet.NewSuffixAllowlist(cfg.Fetcher.ThrottledHosts); err != nil {
		return fmt.Errorf("fetcher.throttledHosts: %w", err)
	}
	if cfg.Fetcher.ChunkSize > cfg.Fetcher.MaxBoundedBytes {
		return fmt.Errorf("fetcher.chunkSize (%d) exceeds fetcher.maxBoundedBytes (%d)", cfg.Fetcher.ChunkSize, cfg.Fetcher.MaxBoundedBytes)
	}
	if cfg.Resolver.MirrorBudget > cfg.Resolver.Timeout {
		return fmt.Errorf("resolver.mirrorBudget (%s) exceeds resolver.timeout (%s)", cfg.Resolver.MirrorBudget, cfg.Resolver.Timeout)
	}
	return nil
}
