package daemon

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/apptindex/internal/app"
	"github.com/Aman-CERP/apptindex/internal/config"
	"github.com/Aman-CERP/apptindex/internal/document"
	"github.com/Aman-CERP/apptindex/internal/ledger"
	"github.com/Aman-CERP/apptindex/internal/search"
	"github.com/Aman-CERP/apptindex/internal/source"
	"github.com/Aman-CERP/apptindex/internal/store"
)

// daemonTestConfig creates a test configuration with unique paths.
func daemonTestConfig(t *testing.T) Config {
	t.Helper()
	suffix := fmt.Sprintf("%d", time.Now().UnixNano())
	socketPath := filepath.Join("/tmp", fmt.Sprintf("apptindex-daemon-test-%s.sock", suffix))
	pidPath := filepath.Join("/tmp", fmt.Sprintf("apptindex-daemon-test-%s.pid", suffix))

	t.Cleanup(func() {
		os.Remove(socketPath)
		os.Remove(pidPath)
	})

	return Config{
		SocketPath:          socketPath,
		PIDPath:             pidPath,
		Timeout:             5 * time.Second,
		ShutdownGracePeriod: 2 * time.Second,
	}
}

// newTestApp opens an app over an in-memory index and a temporary database.
func newTestApp(t *testing.T) *app.App {
	t.Helper()
	cfg := config.NewConfig()
	cfg.Index.Path = store.MemoryPath
	cfg.Source.Database = filepath.Join(t.TempDir(), "apptindex.db")
	cfg.Search.TimeZone = "UTC"

	a, err := app.Open(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

// runDaemon starts d in the background and waits until it accepts connections.
func runDaemon(t *testing.T, d *Daemon, cfg Config) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	done := make(chan struct{})
	go func() {
		errCh <- d.Start(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	require.NoError(t, WaitReady(cfg, 5*time.Second))
	return cancel, errCh
}

func TestNewDaemon(t *testing.T) {
	cfg := daemonTestConfig(t)

	d, err := NewDaemon(cfg, newTestApp(t))
	require.NoError(t, err)
	assert.NotNil(t, d)
}

func TestNewDaemon_InvalidConfig(t *testing.T) {
	_, err := NewDaemon(Config{}, newTestApp(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid daemon config")

	_, err = NewDaemon(daemonTestConfig(t), nil)
	assert.Error(t, err)
}

func TestDaemon_StartStop(t *testing.T) {
	cfg := daemonTestConfig(t)
	d, err := NewDaemon(cfg, newTestApp(t))
	require.NoError(t, err)

	cancel, errCh := runDaemon(t, d, cfg)

	// PID file and socket exist while running
	pf := NewPIDFile(cfg.PIDPath)
	assert.True(t, pf.IsRunning(), "daemon should be running")
	info, err := pf.ReadInfo()
	require.NoError(t, err)
	assert.Equal(t, cfg.SocketPath, info.Socket)
	assert.Equal(t, d.app.Store.Path(), info.Index)
	_, err = os.Stat(cfg.SocketPath)
	require.NoError(t, err, "socket should exist")

	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop")
	}

	// Both files are cleaned up
	_, err = os.Stat(cfg.PIDPath)
	assert.True(t, os.IsNotExist(err), "PID file should be removed")
	_, err = os.Stat(cfg.SocketPath)
	assert.True(t, os.IsNotExist(err), "socket should be removed")
}

func TestDaemon_NotifyThenSearch(t *testing.T) {
	cfg := daemonTestConfig(t)
	a := newTestApp(t)
	ctx := context.Background()

	// Given: a stored appointment and a running daemon
	require.NoError(t, a.Source.PutForm(ctx, source.Form{ID: 1, Title: "Residence permit"}))
	start := time.Date(2024, 5, 2, 14, 0, 0, 0, time.UTC)
	_, err := a.Source.PutAppointment(ctx, document.Record{
		ID:        21,
		FormID:    1,
		FirstName: "Grace",
		LastName:  "Hopper",
		Email:     "grace@example.org",
		StartDate: start,
		EndDate:   start.Add(time.Hour),
		NbSeats:   1,
		DateTaken: start.Add(-24 * time.Hour),
	})
	require.NoError(t, err)

	d, err := NewDaemon(cfg, a)
	require.NoError(t, err)
	runDaemon(t, d, cfg)
	client := NewClient(cfg)

	// When: the creation is announced through the client
	require.NoError(t, client.Notify(ctx, 21, ledger.Create))

	// Then: a search over the socket eventually finds it with its title
	var page search.Page
	require.Eventually(t, func() bool {
		page, err = client.Search(ctx, SearchParams{Filter: search.Filter{LastName: "HOPPER"}})
		return err == nil && page.Total == 1
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, 21, page.Items[0].ID)
	assert.Equal(t, "Residence permit", page.Items[0].FormTitle)

	// And: the index is consistent with the source
	res, err := client.Check(ctx, false)
	require.NoError(t, err)
	assert.True(t, res.Consistent())
	assert.Equal(t, 1, res.Checked)
}

func TestDaemon_Status(t *testing.T) {
	cfg := daemonTestConfig(t)
	d, err := NewDaemon(cfg, newTestApp(t))
	require.NoError(t, err)
	runDaemon(t, d, cfg)

	status, err := NewClient(cfg).Status(context.Background())
	require.NoError(t, err)

	assert.True(t, status.Running)
	assert.Equal(t, os.Getpid(), status.PID)
	assert.NotEmpty(t, status.Uptime)
	assert.Equal(t, "AppointmentIndexer", status.Indexer.Name)
	assert.True(t, status.Indexer.Enabled)
	assert.Contains(t, status.Indexer.Pending, "create")
}

func TestDaemon_RebuildOverSocket(t *testing.T) {
	cfg := daemonTestConfig(t)
	a := newTestApp(t)
	ctx := context.Background()
	require.NoError(t, a.Source.PutForm(ctx, source.Form{ID: 1, Title: "Visa"}))
	start := time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC)
	for id := 1; id <= 3; id++ {
		_, err := a.Source.PutAppointment(ctx, document.Record{
			ID:        id,
			FormID:    1,
			Email:     "p@example.org",
			StartDate: start,
			EndDate:   start.Add(15 * time.Minute),
			NbSeats:   1,
			DateTaken: start.Add(-time.Hour),
		})
		require.NoError(t, err)
	}

	d, err := NewDaemon(cfg, a)
	require.NoError(t, err)
	runDaemon(t, d, cfg)

	require.NoError(t, NewClient(cfg).Rebuild(ctx))

	require.Eventually(t, func() bool {
		n, err := a.Store.DocCount()
		return err == nil && n == 3
	}, 5*time.Second, 20*time.Millisecond)
}

func TestDaemon_StaleSocketCleaned(t *testing.T) {
	cfg := daemonTestConfig(t)

	// Create a stale socket file
	require.NoError(t, os.WriteFile(cfg.SocketPath, []byte("stale"), 0644))

	d, err := NewDaemon(cfg, newTestApp(t))
	require.NoError(t, err)
	runDaemon(t, d, cfg)

	assert.True(t, NewClient(cfg).IsRunning())
}

func TestDaemon_StalePIDCleaned(t *testing.T) {
	cfg := daemonTestConfig(t)

	// Create a stale PID file with non-existent process
	require.NoError(t, os.WriteFile(cfg.PIDPath, []byte("4194304"), 0644))

	d, err := NewDaemon(cfg, newTestApp(t))
	require.NoError(t, err)
	runDaemon(t, d, cfg)

	pid, err := NewPIDFile(cfg.PIDPath).Read()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
}

func TestDaemon_AlreadyRunning(t *testing.T) {
	cfg := daemonTestConfig(t)

	// Given: a PID file naming another live process
	require.NoError(t, os.WriteFile(cfg.PIDPath, []byte(strconv.Itoa(os.Getppid())), 0644))

	d, err := NewDaemon(cfg, newTestApp(t))
	require.NoError(t, err)

	// When: starting
	err = d.Start(context.Background())

	// Then: it refuses and leaves the PID file alone
	require.ErrorIs(t, err, ErrAlreadyRunning)
	pid, err := NewPIDFile(cfg.PIDPath).Read()
	require.NoError(t, err)
	assert.Equal(t, os.Getppid(), pid)
}

func TestDaemon_ServesMetrics(t *testing.T) {
	cfg := daemonTestConfig(t)
	cfg.MetricsAddr = "127.0.0.1:0"

	d, err := NewDaemon(cfg, newTestApp(t))
	require.NoError(t, err)
	runDaemon(t, d, cfg)

	require.NotEmpty(t, d.MetricsAddr())
	resp, err := http.Get("http://" + d.MetricsAddr() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "apptindex_sync_documents_added_total")
}
