package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/cne-results-crawler/internal/config"
	"github.com/JakeFAU/cne-results-crawler/internal/crawler"
	"github.com/JakeFAU/cne-results-crawler/internal/engine"
)

type fakeRunner struct {
	err    error
	closed bool
}

func (r *fakeRunner) Run(context.Context) (engine.Summary, error) {
	return engine.Summary{RunID: "run-1", Stations: crawler.CountersSnapshot{Persisted: 3}}, r.err
}

func (r *fakeRunner) Close() error {
	r.closed = true
	return nil
}

type steppingClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

// useFakes swaps the package factories for one test and writes a config file
// pointing every output into a temp dir.
func useFakes(t *testing.T, factory func(context.Context, config.Config, *zap.Logger) (Runner, error)) (cfgPath, historyPath string) {
	t.Helper()
	dir := t.TempDir()
	historyPath = filepath.Join(dir, "history", "runs.txt")
	cfgPath = filepath.Join(dir, "config.yaml")
	body := fmt.Sprintf(`logging:
  development: false
  audit_file: %q
runlog:
  history_file: %q
store:
  sqlite_path: %q
`, filepath.Join(dir, "audit.log"), historyPath, filepath.Join(dir, "results.db"))
	require.NoError(t, os.WriteFile(cfgPath, []byte(body), 0o600))

	prevApp, prevClock, prevCfg := newApp, localClock, cfgFile
	newApp = factory
	localClock = &steppingClock{now: time.Date(2025, 12, 1, 8, 30, 0, 0, time.UTC), step: 1500 * time.Millisecond}
	t.Cleanup(func() {
		newApp, localClock, cfgFile = prevApp, prevClock, prevCfg
	})
	return cfgPath, historyPath
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func readHistory(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

func TestCrawlRecordsSuccess(t *testing.T) {
	runner := &fakeRunner{}
	cfgPath, historyPath := useFakes(t, func(context.Context, config.Config, *zap.Logger) (Runner, error) {
		return runner, nil
	})

	out, err := execute(t, "crawl", "--config", cfgPath)
	require.NoError(t, err)
	assert.True(t, runner.closed)
	assert.Contains(t, out, "TIME: 1.50s")
	assert.Contains(t, out, "STATUS: SUCCESS")

	assert.Equal(t, []string{"[2025-12-01 08:30:01.500000] | 1.50s | SUCCESS"}, readHistory(t, historyPath))
}

func TestCrawlRecordsFailure(t *testing.T) {
	cfgPath, historyPath := useFakes(t, func(context.Context, config.Config, *zap.Logger) (Runner, error) {
		return &fakeRunner{err: errors.New("upstream exploded")}, nil
	})

	out, err := execute(t, "crawl", "--config", cfgPath)
	require.EqualError(t, err, "upstream exploded")
	assert.Contains(t, out, "STATUS: ERROR: upstream exploded")

	lines := readHistory(t, historyPath)
	require.Len(t, lines, 1)
	assert.True(t, strings.HasSuffix(lines[0], "| ERROR: upstream exploded"), lines[0])
}

func TestCrawlTreatsCancellationAsInterrupt(t *testing.T) {
	cfgPath, historyPath := useFakes(t, func(context.Context, config.Config, *zap.Logger) (Runner, error) {
		return &fakeRunner{err: fmt.Errorf("discover stations: %w", context.Canceled)}, nil
	})

	_, err := execute(t, "crawl", "--config", cfgPath)
	require.NoError(t, err)
	lines := readHistory(t, historyPath)
	require.Len(t, lines, 1)
	assert.True(t, strings.HasSuffix(lines[0], "| USER_INTERRUPTED"), lines[0])
}

func TestCrawlRecordsStartupFailure(t *testing.T) {
	cfgPath, historyPath := useFakes(t, func(context.Context, config.Config, *zap.Logger) (Runner, error) {
		return nil, errors.New("database is locked")
	})

	_, err := execute(t, "crawl", "--config", cfgPath)
	require.ErrorContains(t, err, "initialize application services: database is locked")

	_, err = execute(t, "crawl", "--config", cfgPath)
	require.Error(t, err)
	assert.Len(t, readHistory(t, historyPath), 2, "history is append-only")
}

func TestCrawlRejectsMissingConfig(t *testing.T) {
	useFakes(t, func(context.Context, config.Config, *zap.Logger) (Runner, error) {
		t.Fatal("app must not start without a config")
		return nil, nil
	})

	_, err := execute(t, "crawl", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorContains(t, err, "load config")
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "dev\n", out)
}
