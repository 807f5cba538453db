package integration

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/apptindex/internal/app"
	"github.com/Aman-CERP/apptindex/internal/config"
	"github.com/Aman-CERP/apptindex/internal/search"
	"github.com/Aman-CERP/apptindex/internal/seed"
	"github.com/Aman-CERP/apptindex/internal/validation"
)

// Integration tests drive the whole chain: source writes, ledger
// notifications, the background worker and searches over the committed
// index.

const idleTimeout = 10 * time.Second

// testConfig keeps both the database and the index on disk so a test can
// reopen them.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.NewConfig()
	cfg.Index.Path = filepath.Join(dir, "index")
	cfg.Index.BatchSize = 4
	cfg.Source.Database = filepath.Join(dir, "apptindex.db")
	cfg.Server.SocketPath = filepath.Join(dir, "daemon.sock")
	cfg.Search.TimeZone = "UTC"
	return cfg
}

func openApp(t *testing.T, cfg *config.Config) *app.App {
	t.Helper()
	a, err := app.Open(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

// seedAndWait applies the dataset at path and waits for the worker to
// drain the ledger.
func seedAndWait(t *testing.T, a *app.App, path string) seed.Result {
	t.Helper()
	ctx := context.Background()
	ds, err := seed.Load(path)
	require.NoError(t, err)

	res, err := seed.Apply(ctx, ds, a.Source, a.Coordinator, nil)
	require.NoError(t, err)
	require.NoError(t, a.WaitIdle(ctx, idleTimeout))
	return res
}

// requireSuite runs the suite and reports each failing case by id.
func requireSuite(t *testing.T, s validation.Searcher, suite *validation.Suite) {
	t.Helper()
	loc, err := suite.Location(time.UTC)
	require.NoError(t, err)

	res := validation.Run(context.Background(), s, suite, loc)
	for _, c := range res.Cases {
		if !c.Passed {
			t.Errorf("case %s: got %v (total %d), expected %v %s",
				c.Case.ID, c.Got, c.Total, c.Case.Expected, c.Error)
		}
	}
	require.True(t, res.OK(), "%d of %d cases failed", res.Failed, len(res.Cases))
}

func loadSuite(t *testing.T) *validation.Suite {
	t.Helper()
	suite, err := validation.Load(filepath.Join("testdata", "searches.yaml"))
	require.NoError(t, err)
	return suite
}

func TestSeededIndex_PassesSearchSuite(t *testing.T) {
	a := openApp(t, testConfig(t))
	ctx := context.Background()
	require.NoError(t, a.Start(ctx))

	// Given: the dataset announced through the coordinator
	res := seedAndWait(t, a, filepath.Join("testdata", "dataset.yaml"))
	assert.Equal(t, 6, res.Created)
	assert.Equal(t, 3, res.Forms)

	// Then: every search case returns the expected appointments
	requireSuite(t, a.Search, loadSuite(t))

	// And: the index agrees with the source
	check, err := a.Checker.Check(ctx)
	require.NoError(t, err)
	assert.True(t, check.Consistent(), "issues: %v", check.Inconsistencies)
	assert.Equal(t, 6, check.Checked)

	st, err := a.Status(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 6, st.Documents)
	assert.Zero(t, st.Pending["create"])
}

func TestSeededIndex_AnnotatesTitles(t *testing.T) {
	a := openApp(t, testConfig(t))
	ctx := context.Background()
	require.NoError(t, a.Start(ctx))
	seedAndWait(t, a, filepath.Join("testdata", "dataset.yaml"))

	// When: searching one appointment with a workflow state
	page := a.Search.Search(ctx, search.Filter{LastName: "lovelace"}, 0, 10, nil)

	// Then: titles are resolved from the form, category and state tables
	require.Len(t, page.Items, 1)
	item := page.Items[0]
	assert.Equal(t, 1, item.ID)
	assert.Equal(t, "Passport renewal", item.FormTitle)
	assert.Equal(t, "Civil status", item.CategoryTitle)
	assert.Equal(t, "Confirmed", item.StateTitle)
}

func TestRebuild_PassesSearchSuite(t *testing.T) {
	a := openApp(t, testConfig(t))
	ctx := context.Background()
	require.NoError(t, a.Start(ctx))
	seedAndWait(t, a, filepath.Join("testdata", "dataset.yaml"))

	// When: the whole index is rebuilt from the source
	require.NoError(t, a.Coordinator.RebuildAll(ctx))
	require.NoError(t, a.WaitIdle(ctx, idleTimeout))

	// Then: nothing is lost or duplicated
	n, err := a.Store.DocCount()
	require.NoError(t, err)
	assert.EqualValues(t, 6, n)
	requireSuite(t, a.Search, loadSuite(t))
}

func TestUpdatesAndDeletes_AreSearchable(t *testing.T) {
	a := openApp(t, testConfig(t))
	ctx := context.Background()
	require.NoError(t, a.Start(ctx))
	seedAndWait(t, a, filepath.Join("testdata", "dataset.yaml"))

	// Given: a second file that renames one appointment and removes another
	ds, err := seed.Parse([]byte(`
appointments:
  - id: 4
    form: 2
    first_name: Grace
    last_name: Grimaldi
    email: grace.kelly@example.mc
    start: 2024-04-12T16:00:00Z
    end: 2024-04-12T16:30:00Z
  - id: 6
    deleted: true
`))
	require.NoError(t, err)

	// When: applying it
	res, err := seed.Apply(ctx, ds, a.Source, a.Coordinator, nil)
	require.NoError(t, err)
	require.NoError(t, a.WaitIdle(ctx, idleTimeout))

	// Then: searches see the new state only
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, 1, res.Deleted)

	suite, err := validation.Parse([]byte(`
cases:
  - id: old-name
    filter: {last_name: kelly}
    expected: []
  - id: new-name
    filter: {last_name: grimaldi}
    expected: [4]
  - id: cancelled
    filter: {status: cancelled}
    expected: [2]
  - id: all
    expected: [1, 2, 3, 4, 5]
    total: 5
`))
	require.NoError(t, err)
	requireSuite(t, a.Search, suite)
}

func TestRestart_ReopensCommittedIndex(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	// Given: a seeded index that is closed cleanly
	first, err := app.Open(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, first.Start(ctx))
	seedAndWait(t, first, filepath.Join("testdata", "dataset.yaml"))
	require.NoError(t, first.Close())

	// When: the same paths are opened again without starting the worker
	second := openApp(t, cfg)

	// Then: the committed documents are searchable right away
	requireSuite(t, second.Search, loadSuite(t))
}

func TestRestart_DrainsLeftoverLedger(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	// Given: changes recorded while no worker was running
	first, err := app.Open(cfg, nil)
	require.NoError(t, err)
	ds, err := seed.Load(filepath.Join("testdata", "dataset.yaml"))
	require.NoError(t, err)
	_, err = seed.Apply(ctx, ds, first.Source, first.Coordinator, nil)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	// When: the next process starts
	second := openApp(t, cfg)
	require.NoError(t, second.Start(ctx))
	require.NoError(t, second.WaitIdle(ctx, idleTimeout))

	// Then: the pending actions were indexed
	requireSuite(t, second.Search, loadSuite(t))
	st, err := second.Status(ctx)
	require.NoError(t, err)
	for kind, n := range st.Pending {
		assert.Zero(t, n, "pending %s", kind)
	}
}

func TestConcurrentNotifyAndSearch(t *testing.T) {
	a := openApp(t, testConfig(t))
	ctx := context.Background()
	require.NoError(t, a.Start(ctx))
	seedAndWait(t, a, filepath.Join("testdata", "dataset.yaml"))

	// Given: many writers touching distinct appointments while readers search
	const writers, perWriter = 4, 25
	g, gctx := errgroup.WithContext(ctx)
	for w := range writers {
		g.Go(func() error {
			for i := range perWriter {
				id := 100 + w*perWriter + i
				start := time.Date(2024, 7, 1+w, 8, i, 0, 0, time.UTC)
				ds := &seed.Dataset{Appointments: []seed.Appointment{{
					ID:        id,
					Form:      3,
					FirstName: "Writer",
					LastName:  fmt.Sprintf("w%d", w),
					Email:     fmt.Sprintf("w%d-%d@example.org", w, i),
					Start:     start,
					End:       start.Add(time.Minute),
				}}}
				if _, err := seed.Apply(gctx, ds, a.Source, a.Coordinator, nil); err != nil {
					return err
				}
			}
			return nil
		})
	}
	for range 2 {
		g.Go(func() error {
			for range 50 {
				page := a.Search.Search(gctx, search.Filter{FirstName: "grace"}, 0, 10, nil)
				if page.Total != 2 {
					return fmt.Errorf("expected 2 graces while indexing, got %d", page.Total)
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	// When: the worker catches up
	require.NoError(t, a.WaitIdle(ctx, idleTimeout))

	// Then: every write is indexed once
	page := a.Search.Search(ctx, search.Filter{FirstName: "writer"}, 0, 0, nil)
	assert.Equal(t, writers*perWriter, page.Total)

	check, err := a.Checker.Check(ctx)
	require.NoError(t, err)
	assert.True(t, check.Consistent(), "issues: %v", check.Inconsistencies)
	assert.Equal(t, 6+writers*perWriter, check.Checked)
}
