package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-auditor/internal/audit"
	"github.com/JakeFAU/site-auditor/internal/config"
	"github.com/JakeFAU/site-auditor/internal/scorer"
	"github.com/JakeFAU/site-auditor/internal/storage/local"
	memoryStorage "github.com/JakeFAU/site-auditor/internal/storage/memory"
	"github.com/JakeFAU/site-auditor/internal/storage/sqlite"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Headless.Enabled = false
	return cfg
}

func TestWireMemoryDefaults(t *testing.T) {
	t.Parallel()

	c, err := wire(context.Background(), testConfig(t), zap.NewNop())
	require.NoError(t, err)
	defer c.Close()

	require.IsType(t, &memoryStorage.Repository{}, c.repo)
	require.NotNil(t, c.orchestrator)
	require.Empty(t, c.checks)
}

func TestBuildRepositorySQLite(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Storage.Driver = config.StorageSQLite
	cfg.Storage.SQLitePath = filepath.Join(t.TempDir(), "audits.db")

	c := &components{}
	defer c.Close()
	repo, err := buildRepository(context.Background(), cfg, c)
	require.NoError(t, err)
	require.IsType(t, &sqlite.Repository{}, repo)
	require.Len(t, c.checks, 1)
	require.NoError(t, c.checks[0](context.Background()))
}

func TestBuildRepositoryUnknownDriver(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Storage.Driver = "mysql"
	_, err := buildRepository(context.Background(), cfg, &components{})
	require.ErrorContains(t, err, "unknown storage driver")
}

func TestBuildBlobStore(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	c := &components{}

	store, err := buildBlobStore(context.Background(), cfg, c)
	require.NoError(t, err)
	require.Nil(t, store)

	cfg.Snapshot.Driver = config.SnapshotMemory
	store, err = buildBlobStore(context.Background(), cfg, c)
	require.NoError(t, err)
	require.IsType(t, &memoryStorage.BlobStore{}, store)

	cfg.Snapshot.Driver = config.SnapshotLocal
	cfg.Snapshot.LocalDir = t.TempDir()
	store, err = buildBlobStore(context.Background(), cfg, c)
	require.NoError(t, err)
	require.IsType(t, &local.BlobStore{}, store)

	cfg.Snapshot.Driver = "s3"
	_, err = buildBlobStore(context.Background(), cfg, c)
	require.Error(t, err)
}

func TestBuildPublisherDisabledWithoutTopic(t *testing.T) {
	t.Parallel()

	publisher, err := buildPublisher(context.Background(), testConfig(t), &components{})
	require.NoError(t, err)
	require.Nil(t, publisher)
}

func TestBuildScorerDisabled(t *testing.T) {
	t.Parallel()

	s := buildScorer(testConfig(t), zap.NewNop())
	_, err := s.Score(context.Background(), "https://example.com", audit.ProfileMobile)
	require.ErrorIs(t, err, scorer.ErrUnavailable)
}

func TestRunOnceAgainstLocalSite(t *testing.T) {
	t.Parallel()

	site := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte(`<html><head><title>Home</title></head><body>` +
				`<h1>Hi</h1><img src="/logo.png"><a href="/gone">gone</a><a href="/">home</a></body></html>`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer site.Close()

	c, err := wire(context.Background(), testConfig(t), zap.NewNop())
	require.NoError(t, err)
	defer c.Close()

	var out, errOut bytes.Buffer
	code := runOnce(context.Background(), c, site.URL+"/", &out, &errOut)
	require.Equal(t, 0, code, errOut.String())

	var report audit.Report
	require.NoError(t, json.Unmarshal(out.Bytes(), &report))
	require.Equal(t, audit.StatusCompleted, report.Audit.Status)
	require.Equal(t, "Home", *report.Markup.Title)
	require.Len(t, report.ImageIssues, 1)
	require.Len(t, report.LinkIssues, 1)
	require.Equal(t, audit.LinkStatus(404), report.LinkIssues[0].Status)
	require.Empty(t, report.Performance)
}

func TestRunOnceReportsFailure(t *testing.T) {
	t.Parallel()

	c, err := wire(context.Background(), testConfig(t), zap.NewNop())
	require.NoError(t, err)
	defer c.Close()

	var out, errOut bytes.Buffer
	code := runOnce(context.Background(), c, "not a url", &out, &errOut)
	require.Equal(t, 1, code)
	require.Contains(t, errOut.String(), "Invalid URL provided")
	require.Empty(t, out.String())
}
