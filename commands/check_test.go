package commands

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/penwyp/go-log-plotter/internal/config"
	"github.com/penwyp/go-log-plotter/internal/core/pattern"
)

const sampleConfig = `
cpu:
  regex: 't=(?P<ts>[\d.]+) usage=(?P<usage>\S+)'
  plots:
    usage: { axis: 1, style: "r-", ylim: [0, 100] }
queue:
  regex: 'depth=(?P<depth>\d+)'
  plots:
    depth: { coef: 0.5 }
`

func writeFixture(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestCheckPrintsFields(t *testing.T) {
	cfg := writeFixture(t, "plots.yaml", sampleConfig)

	out, err := execute(t, "check", "-c", cfg)
	require.NoError(t, err)

	assert.Contains(t, out, "2 record types")
	assert.Contains(t, out, "RECORD")
	assert.Contains(t, out, "[0, 100]")
	assert.Contains(t, out, "counter", "queue has no timestamp group")
	assert.NotContains(t, out, "MATCHES")
}

func TestCheckScansLog(t *testing.T) {
	cfg := writeFixture(t, "plots.yaml", sampleConfig)
	log := writeFixture(t, "app.log", strings.Join([]string{
		"t=1 usage=50",
		"t=2 usage=bad",
		"depth=4",
		"unrelated",
		"t=3 usage=70", // no trailing newline
	}, "\n"))

	out, err := execute(t, "check", "-c", cfg, "-i", log)
	require.NoError(t, err)

	assert.Contains(t, out, "5 lines, 4 matched")
	assert.Contains(t, out, "MATCHES")
	assert.Contains(t, out, "usage=1")

	var cpuRow string
	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(line, "cpu") && strings.Contains(line, "usage=1") {
			cpuRow = line
		}
	}
	require.NotEmpty(t, cpuRow)
	assert.Contains(t, strings.Fields(cpuRow), "3")
}

func TestCheckLongLines(t *testing.T) {
	cfg := writeFixture(t, "plots.yaml", sampleConfig)
	long := "depth=1 " + strings.Repeat("x", 3*10*1024) + "\n"
	log := writeFixture(t, "app.log", long+long)

	report, err := scanLog(log, mustLoad(t, cfg))
	require.NoError(t, err)
	assert.Equal(t, 2, report.lines)
	assert.Equal(t, 2, report.matches["queue"])
}

func TestCheckRejectsBadConfig(t *testing.T) {
	cfg := writeFixture(t, "plots.yaml", "cpu:\n  regex: 'usage=(\\d+)'\n  plots:\n    usage: {}\n")

	_, err := execute(t, "check", "-c", cfg)
	assert.ErrorIs(t, err, pattern.ErrMissingGroup)
}

func TestCheckRequiresConfig(t *testing.T) {
	_, err := execute(t, "check")
	assert.ErrorContains(t, err, "--config is required")
}

func mustLoad(t *testing.T, path string) *pattern.PatternSet {
	t.Helper()
	ps, err := config.LoadPatternSet(path)
	require.NoError(t, err)
	return ps
}
