package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/apptindex/internal/app"
	"github.com/Aman-CERP/apptindex/internal/document"
	"github.com/Aman-CERP/apptindex/internal/index"
	"github.com/Aman-CERP/apptindex/internal/ledger"
	"github.com/Aman-CERP/apptindex/internal/search"
)

// serverTestSocketPath creates a unique socket path for server tests.
func serverTestSocketPath(t *testing.T) string {
	t.Helper()
	socketPath := filepath.Join("/tmp", fmt.Sprintf("apptindex-server-test-%d.sock", time.Now().UnixNano()))
	t.Cleanup(func() { os.Remove(socketPath) })
	return socketPath
}

type notification struct {
	id   int
	kind ledger.Kind
}

type fakeHandler struct {
	mu         sync.Mutex
	searched   []SearchParams
	notified   []notification
	rebuilds   int
	rebuildErr error
	checkErr   error
}

func (h *fakeHandler) snapshot() ([]SearchParams, []notification, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]SearchParams(nil), h.searched...), append([]notification(nil), h.notified...), h.rebuilds
}

func (h *fakeHandler) Search(_ context.Context, params SearchParams) (search.Page, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.searched = append(h.searched, params)
	return search.Page{Items: []document.SearchItem{{ID: 42, LastName: "Hopper"}}, Total: 1}, nil
}

func (h *fakeHandler) Notify(_ context.Context, id int, kind ledger.Kind) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.notified = append(h.notified, notification{id, kind})
	return nil
}

func (h *fakeHandler) Rebuild(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rebuilds++
	return h.rebuildErr
}

func (h *fakeHandler) Check(_ context.Context, repair bool) (CheckResult, error) {
	h.mu.Lock()
	checkErr := h.checkErr
	h.mu.Unlock()
	if checkErr != nil {
		return CheckResult{}, checkErr
	}
	res := CheckResult{CheckResult: index.CheckResult{
		Checked: 2,
		Indexed: 1,
		Inconsistencies: []index.Inconsistency{
			{Type: index.InconsistencyMissing, AppointmentID: 2},
		},
	}}
	if repair {
		res.Repaired = 1
	}
	return res, nil
}

func (h *fakeHandler) Status(context.Context) (app.Status, error) {
	return app.Status{Name: index.IndexerName, Enabled: true, State: "idle", Documents: 3}, nil
}

// startServer runs a server with h until the test ends.
func startServer(t *testing.T, h RequestHandler) string {
	t.Helper()
	socketPath := serverTestSocketPath(t)
	srv, err := NewServer(socketPath, 5*time.Second, nil)
	require.NoError(t, err)
	if h != nil {
		srv.SetHandler(h)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-errCh
	})

	require.Eventually(t, func() bool {
		conn, err := net.Dial("unix", socketPath)
		if err != nil {
			return false
		}
		_ = conn.Close()
		return true
	}, 2*time.Second, 10*time.Millisecond)
	return socketPath
}

// roundTrip sends req and decodes the raw response.
func roundTrip(t *testing.T, socketPath string, req Request) Response {
	t.Helper()
	conn, err := net.Dial("unix", socketPath)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, json.NewEncoder(conn).Encode(req))
	var resp Response
	require.NoError(t, json.NewDecoder(conn).Decode(&resp))
	return resp
}

func TestNewServer(t *testing.T) {
	socketPath := serverTestSocketPath(t)

	srv, err := NewServer(socketPath, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, socketPath, srv.socketPath)
	assert.Equal(t, 30*time.Second, srv.timeout)

	_, err = NewServer("", time.Second, nil)
	assert.Error(t, err)
}

func TestServer_ListenAndServe(t *testing.T) {
	socketPath := serverTestSocketPath(t)

	srv, err := NewServer(socketPath, time.Second, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe(ctx)
	}()

	require.Eventually(t, func() bool {
		_, err := os.Stat(socketPath)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	// Cancel and wait for server to stop
	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}

	// Socket should be removed
	_, err = os.Stat(socketPath)
	assert.True(t, os.IsNotExist(err), "socket should be cleaned up")
}

func TestServer_HandlePing(t *testing.T) {
	socketPath := startServer(t, nil)

	resp := roundTrip(t, socketPath, Request{JSONRPC: "2.0", Method: MethodPing, ID: "test-1"})

	assert.Equal(t, "2.0", resp.JSONRPC)
	assert.Equal(t, "test-1", resp.ID)
	assert.Nil(t, resp.Error)
}

func TestServer_HandleUnknownMethod(t *testing.T) {
	socketPath := startServer(t, nil)

	resp := roundTrip(t, socketPath, Request{JSONRPC: "2.0", Method: "unknownMethod", ID: "test-2"})

	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeMethodNotFound, resp.Error.Code)
}

func TestServer_RejectsWrongVersion(t *testing.T) {
	socketPath := startServer(t, nil)

	resp := roundTrip(t, socketPath, Request{JSONRPC: "1.0", Method: MethodPing, ID: "v"})

	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeInvalidRequest, resp.Error.Code)
}

func TestServer_MalformedRequest(t *testing.T) {
	socketPath := startServer(t, nil)

	conn, err := net.Dial("unix", socketPath)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("{not json\n"))
	require.NoError(t, err)

	var resp Response
	require.NoError(t, json.NewDecoder(conn).Decode(&resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeParseError, resp.Error.Code)
}

func TestServer_WithoutHandler(t *testing.T) {
	socketPath := startServer(t, nil)

	for _, method := range []string{MethodSearch, MethodNotify, MethodRebuild, MethodCheck} {
		resp := roundTrip(t, socketPath, Request{JSONRPC: "2.0", Method: method, ID: method})
		require.NotNil(t, resp.Error, method)
		assert.Equal(t, ErrCodeInternalError, resp.Error.Code, method)
	}

	// Status still answers with process details
	resp := roundTrip(t, socketPath, Request{JSONRPC: "2.0", Method: MethodStatus, ID: "s"})
	assert.Nil(t, resp.Error)
}

func TestServer_HandleSearch(t *testing.T) {
	h := &fakeHandler{}
	socketPath := startServer(t, h)

	// Given: a filtered, sorted page request
	params := SearchParams{
		Filter:   search.Filter{LastName: "hopper", Status: search.StatusActive},
		Start:    10,
		PageSize: 5,
		Sort:     &search.SortSpec{Attribute: "start_date", Ascending: true},
	}

	// When: it is sent over the socket
	resp := roundTrip(t, socketPath, Request{JSONRPC: "2.0", Method: MethodSearch, Params: params, ID: "s1"})

	// Then: the handler sees the same params and the page comes back
	require.Nil(t, resp.Error)
	searched, _, _ := h.snapshot()
	require.Len(t, searched, 1)
	assert.Equal(t, params, searched[0])

	data, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	var page search.Page
	require.NoError(t, json.Unmarshal(data, &page))
	assert.Equal(t, 1, page.Total)
	assert.Equal(t, 42, page.Items[0].ID)
}

func TestServer_HandleSearch_InvalidParams(t *testing.T) {
	h := &fakeHandler{}
	socketPath := startServer(t, h)

	resp := roundTrip(t, socketPath, Request{
		JSONRPC: "2.0",
		Method:  MethodSearch,
		Params:  SearchParams{Start: -1},
		ID:      "bad",
	})

	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeInvalidParams, resp.Error.Code)
	searched, _, _ := h.snapshot()
	assert.Empty(t, searched)
}

func TestServer_HandleNotify(t *testing.T) {
	h := &fakeHandler{}
	socketPath := startServer(t, h)

	resp := roundTrip(t, socketPath, Request{
		JSONRPC: "2.0",
		Method:  MethodNotify,
		Params:  NotifyParams{AppointmentID: 7, Action: "update"},
		ID:      "n1",
	})
	require.Nil(t, resp.Error)
	_, notified, _ := h.snapshot()
	assert.Equal(t, []notification{{7, ledger.Modify}}, notified)

	resp = roundTrip(t, socketPath, Request{
		JSONRPC: "2.0",
		Method:  MethodNotify,
		Params:  NotifyParams{AppointmentID: 7, Action: "archive"},
		ID:      "n2",
	})
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeInvalidParams, resp.Error.Code)
}

func TestServer_HandleRebuild(t *testing.T) {
	h := &fakeHandler{}
	socketPath := startServer(t, h)

	resp := roundTrip(t, socketPath, Request{JSONRPC: "2.0", Method: MethodRebuild, ID: "r1"})
	require.Nil(t, resp.Error)
	_, _, rebuilds := h.snapshot()
	assert.Equal(t, 1, rebuilds)

	// A disabled indexer maps to its own code
	h.mu.Lock()
	h.rebuildErr = index.ErrDisabled
	h.mu.Unlock()
	resp = roundTrip(t, socketPath, Request{JSONRPC: "2.0", Method: MethodRebuild, ID: "r2"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeIndexerDisabled, resp.Error.Code)
}

func TestServer_HandleCheck(t *testing.T) {
	h := &fakeHandler{}
	socketPath := startServer(t, h)

	resp := roundTrip(t, socketPath, Request{
		JSONRPC: "2.0",
		Method:  MethodCheck,
		Params:  CheckParams{Repair: true},
		ID:      "c1",
	})
	require.Nil(t, resp.Error)

	data, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	var res CheckResult
	require.NoError(t, json.Unmarshal(data, &res))
	assert.Equal(t, 2, res.Checked)
	assert.Equal(t, 1, res.Repaired)
	require.Len(t, res.Inconsistencies, 1)
	assert.Equal(t, 2, res.Inconsistencies[0].AppointmentID)

	h.mu.Lock()
	h.checkErr = errors.New("source unavailable")
	h.mu.Unlock()
	resp = roundTrip(t, socketPath, Request{JSONRPC: "2.0", Method: MethodCheck, ID: "c2"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeCheckFailed, resp.Error.Code)
}

func TestServer_HandleStatus(t *testing.T) {
	socketPath := startServer(t, &fakeHandler{})

	resp := roundTrip(t, socketPath, Request{JSONRPC: "2.0", Method: MethodStatus, ID: "test-3"})
	require.Nil(t, resp.Error)

	data, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	var status StatusResult
	require.NoError(t, json.Unmarshal(data, &status))
	assert.True(t, status.Running)
	assert.Equal(t, os.Getpid(), status.PID)
	assert.Equal(t, index.IndexerName, status.Indexer.Name)
	assert.Equal(t, uint64(3), status.Indexer.Documents)
}

func TestServer_ConcurrentConnections(t *testing.T) {
	socketPath := startServer(t, &fakeHandler{})

	const numClients = 5
	done := make(chan bool, numClients)

	for i := 0; i < numClients; i++ {
		go func(id int) {
			conn, err := net.Dial("unix", socketPath)
			if err != nil {
				done <- false
				return
			}
			defer conn.Close()

			req := Request{
				JSONRPC: "2.0",
				Method:  MethodPing,
				ID:      fmt.Sprintf("client-%d", id),
			}
			if err := json.NewEncoder(conn).Encode(req); err != nil {
				done <- false
				return
			}

			var resp Response
			if err := json.NewDecoder(conn).Decode(&resp); err != nil {
				done <- false
				return
			}
			done <- resp.Error == nil
		}(i)
	}

	successCount := 0
	for i := 0; i < numClients; i++ {
		if <-done {
			successCount++
		}
	}

	assert.Equal(t, numClients, successCount, "all clients should succeed")
}
