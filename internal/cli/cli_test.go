package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"code.cloudfoundry.org/clock/fakeclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chenyanchen/hotreload"
)

func TestMain(m *testing.M) {
	buildLogger = func(string) (*zap.Logger, error) { return zap.NewNop(), nil }
	os.Exit(m.Run())
}

var past = time.Now().Add(-time.Hour).Truncate(time.Second)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	require.NoError(t, os.Chtimes(path, past, past))
}

// setupProject writes a config with two assets and returns its path.
func setupProject(t *testing.T, extra string) string {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "levels", "intro.json"), `{"waves": 3}`)
	writeFile(t, filepath.Join(dir, "theme.yaml"), "color: red\n")
	path := filepath.Join(dir, "hotreload.yaml")
	writeFile(t, path, `fps: 1000
assets:
  - kind: level
    name: intro
    path: levels/intro.json
  - kind: theme
    name: main
    path: theme.yaml
`+extra)
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	statusJSON = false
	runFrames = 0
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

func TestCheckCommand(t *testing.T) {
	path := setupProject(t, "")

	out, err := execute(t, "check", "-c", path)
	require.NoError(t, err)
	assert.Equal(t, "ok: 2 assets, strategy periodic(1s)\n", out)
}

func TestCheckCommandFailsOnBrokenAsset(t *testing.T) {
	path := setupProject(t, "")
	writeFile(t, filepath.Join(filepath.Dir(path), "theme.yaml"), "color: [\n")

	_, err := execute(t, "check", "-c", path)
	var formatErr hotreload.FormatError
	require.ErrorAs(t, err, &formatErr)
	assert.Equal(t, "yaml", formatErr.Format)
}

func TestCheckCommandMissingConfig(t *testing.T) {
	_, err := execute(t, "check", "-c", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorAs(t, err, new(hotreload.SourceGoneError))
}

func TestStatusCommandJSON(t *testing.T) {
	path := setupProject(t, "")

	out, err := execute(t, "status", "-c", path, "--json")
	require.NoError(t, err)

	var st hotreload.Status
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Equal(t, "periodic(1s)", st.Strategy)
	require.Len(t, st.Assets, 2)
	assert.Equal(t, "assets", st.Assets[0].Store)
	assert.Equal(t, hotreload.AssetKey{Kind: "level", Name: "intro"}, st.Assets[0].Key)
	assert.Equal(t, "json", st.Assets[0].Format)
	assert.True(t, st.Assets[0].Live)
	assert.Equal(t, "yaml", st.Assets[1].Format)
}

func TestStatusCommandTable(t *testing.T) {
	path := setupProject(t, "")

	out, err := execute(t, "status", "-c", path)
	require.NoError(t, err)
	assert.Contains(t, out, "strategy periodic(1s)")
	assert.Contains(t, out, "ASSET")
	assert.Contains(t, out, "level/intro")
	assert.Contains(t, out, "theme/main")
}

func TestPrintStatusEmpty(t *testing.T) {
	buf := new(bytes.Buffer)
	require.NoError(t, printStatus(buf, hotreload.Status{Strategy: "disabled"}))
	assert.Equal(t, "frame 0, strategy disabled\nNo assets.\n", buf.String())
}

func TestRunCommandFrames(t *testing.T) {
	path := setupProject(t, "")

	out, err := execute(t, "run", "-c", path, "--frames", "3")
	require.NoError(t, err)
	assert.Equal(t, "loaded 2 assets, strategy periodic(1s), 1000 fps\n", out)
}

func TestAppStepReloadsChangedAssets(t *testing.T) {
	path := setupProject(t, "")
	dir := filepath.Dir(path)
	fake := fakeclock.NewFakeClock(time.Unix(1700000000, 0))

	a, err := loadApp(context.Background(), path, fake)
	require.NoError(t, err)
	defer a.close(context.Background())

	require.NoError(t, os.WriteFile(filepath.Join(dir, "theme.yaml"), []byte("color: blue\n"), 0o644))

	fake.Increment(time.Second)
	report := a.step(context.Background())
	assert.False(t, report.Due)
	assert.Equal(t, hotreload.Frame(1), report.Frame)

	report = a.step(context.Background())
	require.True(t, report.Due)
	require.Len(t, report.Passes, 1)
	assert.Equal(t, []hotreload.AssetKey{{Kind: "theme", Name: "main"}}, report.Passes[0].Reloaded)
	assert.Equal(t, []hotreload.AssetKey{{Kind: "level", Name: "intro"}}, report.Passes[0].Unchanged)
	assert.Equal(t, map[string]any{"color": "blue"}, a.store.MustGet(hotreload.AssetKey{Kind: "theme", Name: "main"}))

	buf := new(bytes.Buffer)
	printReport(buf, report)
	assert.Equal(t, "frame 2: reloaded theme/main\n", buf.String())
}

func TestAppStepReloadsConfig(t *testing.T) {
	path := setupProject(t, "")
	dir := filepath.Dir(path)
	fake := fakeclock.NewFakeClock(time.Unix(1700000000, 0))

	a, err := loadApp(context.Background(), path, fake)
	require.NoError(t, err)
	defer a.close(context.Background())

	writeFile(t, filepath.Join(dir, "extra.toml"), "n = 1\n")
	require.NoError(t, os.WriteFile(path, []byte(`fps: 1000
assets:
  - kind: level
    name: intro
    path: levels/intro.json
  - kind: extra
    name: data
    path: extra.toml
`), 0o644))

	fake.Increment(time.Second)
	a.step(context.Background())
	a.step(context.Background())

	assert.Equal(t, []hotreload.AssetKey{
		{Kind: "level", Name: "intro"},
		{Kind: "extra", Name: "data"},
	}, a.store.Keys())

	// A broken config keeps the previous assets.
	require.NoError(t, os.WriteFile(path, []byte("fps: [\n"), 0o644))
	fake.Increment(time.Second)
	a.step(context.Background())
	a.step(context.Background())
	assert.Equal(t, 2, a.store.Len())
}

// stepDue moves the clock past the periodic interval and steps until the
// reload pass ran.
func stepDue(t *testing.T, a *app, fake *fakeclock.FakeClock) hotreload.FrameReport {
	t.Helper()
	fake.Increment(time.Second)
	a.step(context.Background())
	report := a.step(context.Background())
	require.True(t, report.Due)
	return report
}

func TestAppRetriesConfigUntilAssetsLoad(t *testing.T) {
	path := setupProject(t, "")
	dir := filepath.Dir(path)
	fake := fakeclock.NewFakeClock(time.Unix(1700000000, 0))

	a, err := loadApp(context.Background(), path, fake)
	require.NoError(t, err)
	defer a.close(context.Background())

	extra := filepath.Join(dir, "extra.json")
	writeFile(t, extra, `{"n": `)
	require.NoError(t, os.WriteFile(path, []byte(`fps: 1000
assets:
  - kind: level
    name: intro
    path: levels/intro.json
  - kind: extra
    name: data
    path: extra.json
`), 0o644))

	stepDue(t, a, fake)
	assert.Equal(t, []hotreload.AssetKey{
		{Kind: "level", Name: "intro"},
		{Kind: "theme", Name: "main"},
	}, a.store.Keys())
	assert.NotNil(t, a.pending)

	// Only the asset is fixed; the config file stays as it is.
	require.NoError(t, os.WriteFile(extra, []byte(`{"n": 1}`), 0o644))
	stepDue(t, a, fake)

	assert.Equal(t, []hotreload.AssetKey{
		{Kind: "level", Name: "intro"},
		{Kind: "extra", Name: "data"},
	}, a.store.Keys())
	assert.Nil(t, a.pending)
	assert.Equal(t, map[string]any{"n": 1.0}, a.store.MustGet(hotreload.AssetKey{Kind: "extra", Name: "data"}))
}

func TestAppReloadsManifest(t *testing.T) {
	path := setupProject(t, "manifest: assets.yaml\n")
	dir := filepath.Dir(path)
	writeFile(t, filepath.Join(dir, "a.json"), `{"v": 1}`)
	writeFile(t, filepath.Join(dir, "b.json"), `{"v": 2}`)
	manifestPath := filepath.Join(dir, "assets.yaml")
	writeFile(t, manifestPath, "assets:\n  - {kind: x, name: a, path: a.json}\n")
	fake := fakeclock.NewFakeClock(time.Unix(1700000000, 0))

	a, err := loadApp(context.Background(), path, fake)
	require.NoError(t, err)
	defer a.close(context.Background())
	xa := hotreload.AssetKey{Kind: "x", Name: "a"}
	xb := hotreload.AssetKey{Kind: "x", Name: "b"}
	require.Equal(t, 3, a.store.Len())

	require.NoError(t, os.WriteFile(manifestPath, []byte(`assets:
  - {kind: x, name: a, path: a.json}
  - {kind: x, name: b, path: b.json}
`), 0o644))
	stepDue(t, a, fake)

	keys := a.store.Keys()
	assert.Contains(t, keys, xa)
	assert.Contains(t, keys, xb)
	assert.Equal(t, 4, a.store.Len())

	// A broken manifest keeps the previous assets and is retried once fixed.
	require.NoError(t, os.WriteFile(manifestPath, []byte("assets: [\n"), 0o644))
	stepDue(t, a, fake)
	assert.Equal(t, 4, a.store.Len())

	require.NoError(t, os.WriteFile(manifestPath, []byte("assets:\n  - {kind: x, name: b, path: b.json}\n"), 0o644))
	stepDue(t, a, fake)
	keys = a.store.Keys()
	assert.NotContains(t, keys, xa)
	assert.Contains(t, keys, xb)
	assert.Equal(t, 3, a.store.Len())
}

func TestAppWatchesManifest(t *testing.T) {
	path := setupProject(t, "strategy: {mode: triggered}\nmanifest: assets.yaml\n")
	dir := filepath.Dir(path)
	writeFile(t, filepath.Join(dir, "a.json"), `{"v": 1}`)
	manifestPath := filepath.Join(dir, "assets.yaml")
	writeFile(t, manifestPath, "assets:\n  - {kind: x, name: a, path: a.json}\n")

	a, err := loadApp(context.Background(), path, nil)
	require.NoError(t, err)
	defer a.close(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.startWatcher(ctx))

	require.NoError(t, os.WriteFile(manifestPath, []byte("assets: []\n"), 0o644))
	require.Eventually(t, a.strategy.Pending, 3*time.Second, 10*time.Millisecond)
}

type failingCloser struct{}

func (failingCloser) Close() error { return errors.New("device lost") }

func TestCloseAppReportsErrors(t *testing.T) {
	store := hotreload.NewStore[any]()
	require.NoError(t, store.Insert(hotreload.AssetKey{Kind: "gpu", Name: "buffer"}, failingCloser{}, nil))
	a := &app{logger: zap.NewNop(), store: store}

	buf := new(bytes.Buffer)
	closeApp(buf, a)
	assert.Contains(t, buf.String(), "close assets:")
	assert.Contains(t, buf.String(), "device lost")
}

func TestPrintReportFailures(t *testing.T) {
	buf := new(bytes.Buffer)
	printReport(buf, hotreload.FrameReport{
		Frame: 9,
		Due:   true,
		Passes: []hotreload.StorePass{{
			Store: "assets",
			PassResult: hotreload.PassResult{
				Reloaded: []hotreload.AssetKey{{Kind: "a", Name: "x"}},
				Failed:   []hotreload.AssetKey{{Kind: "a", Name: "y"}},
			},
		}},
	})
	assert.Equal(t, "frame 9: reloaded a/x\nframe 9: reload failed a/y\n", buf.String())

	buf.Reset()
	printReport(buf, hotreload.FrameReport{Frame: 10})
	assert.Empty(t, buf.String())
}

func TestNewLogger(t *testing.T) {
	logger, err := newLogger("warn")
	require.NoError(t, err)
	assert.NotNil(t, logger)

	_, err = newLogger("loud")
	assert.Error(t, err)
}
