package util

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetDisplayWidth(t *testing.T) {
	assert.Equal(t, 5, GetDisplayWidth("usage"))
	assert.Equal(t, 4, GetDisplayWidth("温度"))
	assert.Equal(t, 0, GetDisplayWidth(""))
}

func TestPadRight(t *testing.T) {
	assert.Equal(t, "cpu  ", PadRight("cpu", 5))
	assert.Equal(t, "温度 ", PadRight("温度", 5))
	assert.Equal(t, "toolong", PadRight("toolong", 3))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abc", 10))
	assert.Equal(t, "abcd…", Truncate("abcdefgh", 5))
	assert.Equal(t, "", Truncate("abc", 0))
}

func TestTerminalWidthOfNonTerminal(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "out")
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, defaultTableWidth, TerminalWidth(f.Fd()))
}

func TestTableRender(t *testing.T) {
	table := NewTable("RECORD", "FIELD", "AXIS")
	table.AddRow("cpu", "usage", "1")
	table.AddRow("", "温度")
	table.AddRow("memory", "rss", "2")

	lines := strings.Split(strings.TrimRight(table.Render(80), "\n"), "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, "RECORD  FIELD  AXIS", lines[0])
	assert.Equal(t, "------  -----  ----", lines[1])
	assert.Equal(t, "cpu     usage  1", lines[2])
	assert.Equal(t, "        温度", lines[3])
	assert.Equal(t, "memory  rss    2", lines[4])
}

func TestTableRenderTruncates(t *testing.T) {
	table := NewTable("NAME", "DESCRIPTION")
	table.AddRow("x", strings.Repeat("long ", 20))

	for _, line := range strings.Split(strings.TrimRight(table.Render(40), "\n"), "\n") {
		assert.LessOrEqual(t, GetDisplayWidth(line), 40)
	}
}
