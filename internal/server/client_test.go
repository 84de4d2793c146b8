package server

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	siteerrors "github.com/sitedesk/sitedesk/internal/errors"
	"github.com/sitedesk/sitedesk/internal/supervisor"
)

func TestClientStatus(t *testing.T) {
	ts := newTestServer(t, Options{}, newFakeController())
	client := NewClient(ts.URL, time.Second)

	report, err := client.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "/site", report.Project.Root)
	assert.Equal(t, supervisor.StateStopped, report.Server.State)
}

func TestClientStartStop(t *testing.T) {
	ctrl := newFakeController()
	ts := newTestServer(t, Options{}, ctrl)
	client := NewClient(ts.URL+"/", time.Second)

	require.NoError(t, client.StartServer(context.Background(), supervisor.ModeDetached))
	ctrl.mu.Lock()
	assert.Equal(t, supervisor.ModeDetached, ctrl.startMode)
	ctrl.mu.Unlock()

	require.NoError(t, client.StopServer(context.Background()))
	assert.Equal(t, supervisor.StateStopped, ctrl.Status().Server.State)
}

func TestClientRemoteErrorKeepsKind(t *testing.T) {
	ctrl := newFakeController()
	ctrl.stopErr = siteerrors.NewUnsupportedError("STOP_EXTERNAL", "server was not started by sitedesk")
	ts := newTestServer(t, Options{}, ctrl)

	err := NewClient(ts.URL, time.Second).StopServer(context.Background())
	require.Error(t, err)
	assert.True(t, siteerrors.IsKind(err, siteerrors.KindUnsupported))
	assert.Contains(t, err.Error(), "not started by sitedesk")
}

func TestClientUnreachable(t *testing.T) {
	// Nothing listens on port 1.
	client := NewClient("127.0.0.1:1", 200*time.Millisecond)
	_, err := client.Status(context.Background())
	require.Error(t, err)
	assert.True(t, siteerrors.IsKind(err, siteerrors.KindUnreachable))
}
