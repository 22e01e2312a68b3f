package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bandshort/config"
)

// csvFixture 30 根分钟K线，足够越过布林带预热期
func csvFixture() string {
	var sb strings.Builder
	sb.WriteString("CreatedOn,InstrumentIdentifier,OpenValue,High,Low,CloseValue\n")
	start := time.Date(2023, 7, 28, 9, 15, 0, 0, time.UTC)
	for i := 0; i < 30; i++ {
		price := 100 + float64(i%5)*0.2
		fmt.Fprintf(&sb, "%s,SBIN,%.2f,%.2f,%.2f,%.2f\n",
			start.Add(time.Duration(i)*time.Minute).Format("2006-01-02 15:04:05"),
			price, price+0.3, price-0.3, price+0.1)
	}
	return sb.String()
}

func writeFixture(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "candles.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte(csvFixture()), 0644))

	cfg := strings.Join([]string{
		"data:",
		"  csv_path: " + csvPath,
		"database:",
		"  type: sqlite",
		"  dsn: " + filepath.Join(dir, "test.db"),
		"runner:",
		"  output_dir: " + filepath.Join(dir, "out"),
		"  write_reports: true",
		"",
	}, "\n")
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0644))
	return dir, cfgPath
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, Version)
}

func TestRunCommand(t *testing.T) {
	dir, cfgPath := writeFixture(t)

	out, err := execute(t, "run", "-c", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "SBIN")
	assert.Contains(t, out, "1/1 succeeded")

	files, err := filepath.Glob(filepath.Join(dir, "out", "SBIN*_orders.csv"))
	require.NoError(t, err)
	assert.Len(t, files, 1)
}

func TestRunCommandAllFailed(t *testing.T) {
	_, cfgPath := writeFixture(t)
	_, err := execute(t, "run", "-c", cfgPath, "--symbols", "NOPE")
	assert.Error(t, err)
}

func TestImportCommand(t *testing.T) {
	_, cfgPath := writeFixture(t)

	out, err := execute(t, "import", "-c", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "imported 30 candles for 1 instruments")

	_, err = execute(t, "import", "-c", cfgPath, "--if-exists", "fail")
	assert.Error(t, err)
}

func TestLiveRunnerRebuildsOnDataReload(t *testing.T) {
	dir, cfgPath := writeFixture(t)
	cfg, err := config.LoadConfig(cfgPath)
	require.NoError(t, err)

	a := &app{cfg: cfg}
	defer a.close()
	lr, err := a.newLiveRunner(nil)
	require.NoError(t, err)
	hr := config.NewHotReloader(cfg)
	hr.RegisterCallback(lr.apply)

	params, err := cfg.AllParams([]string{"INFY"})
	require.NoError(t, err)
	assert.False(t, lr.Run(context.Background(), params).Results["INFY"].OK())

	// 换成另一个行情文件后，新提交的回测读取新数据
	other := filepath.Join(dir, "infy.csv")
	require.NoError(t, os.WriteFile(other, []byte(strings.ReplaceAll(csvFixture(), ",SBIN,", ",INFY,")), 0644))
	next := *cfg
	next.Data.CSVPath = other
	diff, err := hr.UpdateConfig(&next)
	require.NoError(t, err)
	assert.True(t, diff.Has(config.ScopeReplay))

	report := lr.Run(context.Background(), params)
	require.True(t, report.Results["INFY"].OK(), report.Results["INFY"].Error)
	assert.Equal(t, other, a.cfg.Data.CSVPath)
}

func TestLiveRunnerRejectsBrokenReload(t *testing.T) {
	_, cfgPath := writeFixture(t)
	cfg, err := config.LoadConfig(cfgPath)
	require.NoError(t, err)
	// 行情来自 CSV 时不会打开数据库
	cfg.Database.DSN = filepath.Join(t.TempDir(), "missing", "x.db")

	a := &app{cfg: cfg}
	defer a.close()
	lr, err := a.newLiveRunner(nil)
	require.NoError(t, err)
	hr := config.NewHotReloader(cfg)
	hr.RegisterCallback(lr.apply)

	next := *cfg
	next.Data.Source = "database"
	_, err = hr.UpdateConfig(&next)
	require.Error(t, err)
	assert.Equal(t, "csv", hr.Current().Data.Source)
	assert.Equal(t, "csv", a.cfg.Data.Source)

	params, err := cfg.AllParams([]string{"SBIN"})
	require.NoError(t, err)
	assert.True(t, lr.Run(context.Background(), params).Results["SBIN"].OK())
}
