package commands

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/penwyp/go-log-plotter/internal/config"
	"github.com/penwyp/go-log-plotter/internal/core/pattern"
	"github.com/penwyp/go-log-plotter/internal/data/extractor"
	"github.com/penwyp/go-log-plotter/internal/data/tailer"
	"github.com/penwyp/go-log-plotter/internal/util"
)

var checkCmd = &cobra.Command{
	Use:   "check -c <config> [-i <log>]",
	Short: "Validate a record type configuration",
	Long: `Loads and compiles the configuration and prints every record type with its
fields. With --input the whole log is run through the extractor once and the
number of matches per record type is reported.`,
	SilenceUsage: true,
	RunE:         runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	if configPath == "" {
		return fmt.Errorf("--config is required")
	}
	if debug {
		if err := initLogging(); err != nil {
			return err
		}
		defer util.CloseLogger()
	}

	out := cmd.OutOrStdout()
	width := util.StdoutWidth()

	ps, err := config.LoadPatternSet(expandPath(configPath))
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s: %d record types\n\n", configPath, ps.Len())
	fmt.Fprint(out, fieldTable(ps).Render(width))

	if logPath == "" {
		return nil
	}

	report, err := scanLog(expandPath(logPath), ps)
	if err != nil {
		return err
	}
	fmt.Fprintln(out)
	fmt.Fprintf(out, "%s: %s lines, %s matched, %d blocks (%s)\n\n",
		logPath,
		util.FormatNumber(report.lines), util.FormatNumber(report.matchedLines),
		report.blocks, util.FormatBytes(report.bytes))
	fmt.Fprint(out, report.table(ps).Render(width))
	return nil
}

func fieldTable(ps *pattern.PatternSet) *util.Table {
	t := util.NewTable("RECORD", "FIELD", "AXIS", "STYLE", "COEF", "CLAMP", "TIMESTAMP")
	for _, rt := range ps.Types() {
		ts := "counter"
		if rt.HasTimestamp() {
			ts = "yes"
		}
		for i, f := range rt.Fields {
			name := rt.Name
			if i > 0 {
				name = ""
			}
			axis := "-"
			if f.Axis != nil {
				axis = strconv.Itoa(*f.Axis)
			}
			clamp := "-"
			if f.Clamp != nil {
				clamp = fmt.Sprintf("[%s, %s]", util.FormatFloat(f.Clamp.Min), util.FormatFloat(f.Clamp.Max))
			}
			t.AddRow(name, f.Name, axis, orDash(f.Style), util.FormatFloat(f.Coef), clamp, ts)
		}
	}
	return t
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// scanReport counts extraction results for one pass over a log.
type scanReport struct {
	lines        int
	bytes        int64
	matchedLines int
	blocks       int
	matches      map[string]int
	fieldErrors  map[string]int
}

func (r *scanReport) ObserveMatch(recordType string) { r.matches[recordType]++ }

func (r *scanReport) ObserveFieldError(recordType, field string) {
	r.fieldErrors[recordType+"."+field]++
}

func (r *scanReport) table(ps *pattern.PatternSet) *util.Table {
	t := util.NewTable("RECORD", "MATCHES", "PARSE ERRORS")
	for _, rt := range ps.Types() {
		var errs []string
		for _, f := range rt.Fields {
			if n := r.fieldErrors[rt.Name+"."+f.Name]; n > 0 {
				errs = append(errs, fmt.Sprintf("%s=%d", f.Name, n))
			}
		}
		t.AddRow(rt.Name, util.FormatNumber(r.matches[rt.Name]), orDash(strings.Join(errs, " ")))
	}
	return t
}

// scanLog runs the whole file through the extractor in read-sized batches,
// the same way the follower feeds the running server.
func scanLog(path string, ps *pattern.PatternSet) (*scanReport, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer f.Close()

	report := &scanReport{
		matches:     make(map[string]int),
		fieldErrors: make(map[string]int),
	}
	ex := extractor.New(ps, report)

	var rem tailer.Remainder
	feed := func(lines []string) {
		report.lines += len(lines)
		for _, l := range lines {
			report.bytes += int64(len(l))
		}
		block, matched := ex.Process(lines)
		report.matchedLines += matched
		if block != nil {
			report.blocks++
		}
	}

	for {
		pending := rem.Len()
		lines, err := tailer.ReadIncrement(f, &rem)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		if len(lines) == 0 {
			// Nothing read at all means end of file; a long line may
			// only have grown the remainder.
			if rem.Len() == pending {
				break
			}
			continue
		}
		feed(lines)
	}
	// A final line without a terminator still counts here.
	if rem.Len() > 0 {
		feed([]string{rem.String()})
	}
	return report, nil
}
