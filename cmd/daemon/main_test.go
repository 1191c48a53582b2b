// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/tunegate/internal/config"
	"github.com/ManuGH/tunegate/internal/fetcher"
	"github.com/ManuGH/tunegate/internal/resolver"
	"github.com/ManuGH/tunegate/internal/upstream"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--env-file", ""}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "tunegate dev")
}

func TestRootCommand_Subcommands(t *testing.T) {
	var names []string
	for _, c := range newRootCmd().Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"serve", "resolve", "fetch", "healthcheck", "version"}, names)
}

func TestBuildPipeline_SourceOrder(t *testing.T) {
	cfg := config.Defaults()
	cfg.Resolver.Mirrors = []string{"https://mirror-a.example.com"}

	p, err := buildPipeline(cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{resolver.SourcePrimary, resolver.SourceSecondary, resolver.SourceMirrorPool}, p.resolver.Sources())
	assert.Equal(t, cfg.Fetcher.DefaultMode, p.api().DefaultMode)
	assert.Equal(t, []string{"googlevideo.com"}, p.fetcher.AllowedSuffixes())
}

func TestBuildPipeline_OptionalSources(t *testing.T) {
	cfg := config.Defaults()
	cfg.Resolver.ExtractorEnabled = false
	cfg.Resolver.Mirrors = nil

	p, err := buildPipeline(cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{resolver.SourcePrimary}, p.resolver.Sources())
}

func TestStackConfig(t *testing.T) {
	cfg := config.Defaults()
	cfg.Server.RateLimit.Enabled = false

	sc := stackConfig(cfg)
	assert.Equal(t, cfg.Server.AllowedOrigins, sc.AllowedOrigins)
	assert.False(t, sc.EnableRateLimit)
	assert.True(t, sc.EnableMetrics)
}

func TestResolveCommand_InvalidVideoID(t *testing.T) {
	_, err := execute(t, "resolve", "not valid!")
	require.Error(t, err)
	assert.ErrorIs(t, err, resolver.ErrInvalidVideoID)
}

func TestResolutionView(t *testing.T) {
	res := &resolver.Resolution{
		VideoID:    "dQw4w9WgXcQ",
		Source:     resolver.SourceSecondary,
		Candidates: []resolver.StreamCandidate{{URL: "https://rr1.googlevideo.com/a", MimeType: "audio/mp4"}},
		Outcomes: []resolver.Outcome{
			{Source: resolver.SourcePrimary, Err: errors.New("upstream 403")},
			{Source: resolver.SourceSecondary, Succeeded: true, Candidates: []resolver.StreamCandidate{{}}},
		},
	}
	raw, err := json.Marshal(newResolutionView(res))
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, "dQw4w9WgXcQ", got["videoId"])
	assert.Equal(t, resolver.SourceSecondary, got["source"])
	assert.Len(t, got["audioStreams"], 1)

	outcomes := got["outcomes"].([]any)
	require.Len(t, outcomes, 2)
	first := outcomes[0].(map[string]any)
	assert.Equal(t, "upstream 403", first["error"])
	assert.Equal(t, false, first["succeeded"])
	second := outcomes[1].(map[string]any)
	assert.NotContains(t, second, "error")
	assert.EqualValues(t, 1, second["candidates"])
}

func TestFetchCommand_Validation(t *testing.T) {
	_, err := execute(t, "fetch", "https://example.org/a.m4a")
	assert.ErrorContains(t, err, "--output is required")

	out := filepath.Join(t.TempDir(), "a.m4a")
	_, err = execute(t, "fetch", "https://example.org/a.m4a", "-o", out)
	require.Error(t, err)
	assert.ErrorIs(t, err, upstream.ErrUnauthorized)
	assert.NoFileExists(t, out)

	_, err = execute(t, "fetch", "https://rr1.googlevideo.com/a", "-o", out, "--mode", "sideways")
	assert.ErrorContains(t, err, "unknown mode")
}

// newRoutedFetcher sends every locator to srv regardless of its hostname.
func newRoutedFetcher(t *testing.T, srv *httptest.Server) *fetcher.Fetcher {
	t.Helper()
	addr := srv.Listener.Addr().String()
	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, network, addr)
		},
	}
	t.Cleanup(transport.CloseIdleConnections)
	client := upstream.NewClient("media", upstream.Options{
		HTTPClient:     &http.Client{Transport: transport},
		RateLimit:      1000,
		RateLimitBurst: 1000,
	})
	cfg := config.Defaults().Fetcher
	f, err := fetcher.New(client, fetcher.Config{
		AllowedSuffixes:    []string{"cdn.example.com"},
		ChunkSize:          cfg.ChunkSize,
		MaxBoundedBytes:    cfg.MaxBoundedBytes,
		StreamCeilingBytes: cfg.StreamCeilingBytes,
		BoundedTimeout:     cfg.BoundedTimeout,
		StreamTimeout:      cfg.StreamTimeout,
	})
	require.NoError(t, err)
	return f
}

func commandWithOutput(out *bytes.Buffer) *cobra.Command {
	cmd := &cobra.Command{}
	cmd.SetOut(out)
	cmd.SetContext(context.Background())
	return cmd
}

func TestFetchHelpers_WriteFiles(t *testing.T) {
	payload := bytes.Repeat([]byte("tunegate"), 4096)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/mp4")
		http.ServeContent(w, r, "a.m4a", time.Time{}, bytes.NewReader(payload))
	}))
	defer srv.Close()
	f := newRoutedFetcher(t, srv)
	dir := t.TempDir()
	var stdout bytes.Buffer
	cmd := commandWithOutput(&stdout)

	bounded := filepath.Join(dir, "bounded.m4a")
	sess, err := fetchBounded(cmd, f, "http://media.cdn.example.com/a.m4a", bounded)
	require.NoError(t, err)
	assert.EqualValues(t, len(payload), sess.Transferred)
	got, err := os.ReadFile(bounded)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	streamed := filepath.Join(dir, "streamed.m4a")
	_, err = fetchStream(cmd, f, "http://media.cdn.example.com/a.m4a", streamed)
	require.NoError(t, err)
	got, err = os.ReadFile(streamed)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	_, err = fetchStream(cmd, f, "http://media.cdn.example.com/a.m4a", "-")
	require.NoError(t, err)
	assert.Equal(t, payload, stdout.Bytes())
}

func TestFetchStream_FailureLeavesNoFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()
	f := newRoutedFetcher(t, srv)
	out := filepath.Join(t.TempDir(), "missing.m4a")

	_, err := fetchStream(commandWithOutput(&bytes.Buffer{}), f, "http://media.cdn.example.com/a.m4a", out)
	require.Error(t, err)
	assert.NoFileExists(t, out)
	entries, err := os.ReadDir(filepath.Dir(out))
	require.NoError(t, err)
	assert.Empty(t, entries, "pending file must be cleaned up")
}
