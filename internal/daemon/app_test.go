// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/tunegate/internal/config"
	"github.com/ManuGH/tunegate/internal/log"
)

type fakeManager struct {
	startErr error
	started  chan struct{}
	shutdown chan struct{}
}

func (f *fakeManager) Start(ctx context.Context) error {
	close(f.started)
	if f.startErr != nil {
		return f.startErr
	}
	<-ctx.Done()
	return nil
}

func (f *fakeManager) Shutdown(context.Context) error {
	close(f.shutdown)
	return nil
}

func (f *fakeManager) RegisterShutdownHook(string, ShutdownHook) {}

func newFakeManager(err error) *fakeManager {
	return &fakeManager{startErr: err, started: make(chan struct{}), shutdown: make(chan struct{})}
}

func TestApp_RunRequiresManager(t *testing.T) {
	assert.ErrorIs(t, NewApp(log.WithComponent("test"), nil, nil).Run(context.Background()), ErrMissingManager)
}

func TestApp_RunStopsOnCancel(t *testing.T) {
	holder := config.NewHolder(config.Defaults(), config.NewLoader("", "test").WithEnvFile(""))
	mgr := newFakeManager(nil)
	app := NewApp(log.WithComponent("test"), mgr, holder)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	<-mgr.started
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("app did not stop")
	}
}

func TestApp_StartFailureShutsDown(t *testing.T) {
	boom := errors.New("bind failed")
	mgr := newFakeManager(boom)
	err := NewApp(log.WithComponent("test"), mgr, nil).Run(context.Background())
	require.ErrorIs(t, err, boom)

	select {
	case <-mgr.shutdown:
	default:
		t.Fatal("shutdown was not called after a start failure")
	}
}
