// Package extractor turns raw log lines into Blocks of numeric samples.
package extractor

import (
	"strconv"
	"strings"

	"github.com/penwyp/go-log-plotter/internal/core/model"
	"github.com/penwyp/go-log-plotter/internal/core/pattern"
	"github.com/penwyp/go-log-plotter/internal/util"
)

// Observer receives per-record-type extraction events. Implementations must
// be cheap; they run on the ingestion path.
type Observer interface {
	ObserveMatch(recordType string)
	ObserveFieldError(recordType, field string)
}

type nopObserver struct{}

func (nopObserver) ObserveMatch(string) {}
func (nopObserver) ObserveFieldError(string, string) {}

// Extractor applies a PatternSet to batches of lines. It keeps the timestamp
// baseline and the fallback counter across calls, so it must be used by a
// single goroutine.
type Extractor struct {
	patterns *pattern.PatternSet
	observer Observer

	baseline    float64
	hasBaseline bool
	fallback    float64
}

// New creates an extractor for ps. A nil observer discards events.
func New(ps *pattern.PatternSet, observer Observer) *Extractor {
	if observer == nil {
		observer = nopObserver{}
	}
	return &Extractor{
		patterns: ps,
		observer: observer,
		fallback: 1,
	}
}

// Baseline returns the first timestamp ever resolved, if any.
func (e *Extractor) Baseline() (float64, bool) {
	return e.baseline, e.hasBaseline
}

// pendingSample is a sample whose line carried no timestamp; it takes the
// block timestamp once the batch is done.
type pendingSample struct {
	field string
	index int
}

// Process extracts one Block from lines. It returns nil when no line matched
// any record type, along with the number of lines that matched at least one.
func (e *Extractor) Process(lines []string) (*model.Block, int) {
	block := model.NewBlock()
	matchedLines := 0
	maxTS := 0.0
	timed := false
	var pending []pendingSample

	for _, raw := range lines {
		line := strings.TrimRight(raw, "\r\n")
		lineMatched := false

		for _, rt := range e.patterns.Types() {
			sub := rt.Pattern.FindStringSubmatch(line)
			if sub == nil {
				continue
			}
			lineMatched = true
			e.observer.ObserveMatch(rt.Name)

			// Every field of a matched record type is present, even if empty.
			for _, f := range rt.Fields {
				if _, ok := block.Fields[f.Name]; !ok {
					block.Fields[f.Name] = []model.Sample{}
				}
			}

			relTS, hasTS := e.relative(rt, sub)

			for _, f := range rt.Fields {
				value, err := strconv.ParseFloat(sub[f.Group()], 64)
				if err == nil {
					// Scaling can overflow a finite input.
					value = f.Scale(value)
				}
				if err != nil || !model.Finite(value) {
					util.LogDebugf("Record %s: field %s: cannot parse %q", rt.Name, f.Name, sub[f.Group()])
					e.observer.ObserveFieldError(rt.Name, f.Name)
					continue
				}

				block.Fields[f.Name] = append(block.Fields[f.Name], model.Sample{TS: relTS, Value: value})
				if hasTS {
					if !timed || relTS > maxTS {
						maxTS = relTS
					}
					timed = true
				} else {
					pending = append(pending, pendingSample{field: f.Name, index: len(block.Fields[f.Name]) - 1})
				}
			}
		}

		if lineMatched {
			matchedLines++
		}
	}

	if matchedLines == 0 {
		return nil, 0
	}

	if timed {
		block.TS = maxTS
	} else {
		block.TS = e.fallback
		e.fallback++
	}

	for _, p := range pending {
		block.Fields[p.field][p.index].TS = block.TS
	}
	return block, matchedLines
}

// relative resolves the match timestamp against the baseline, capturing the
// baseline on the first resolved timestamp.
func (e *Extractor) relative(rt *pattern.RecordType, sub []string) (float64, bool) {
	raw, ok := rt.RawTimestamp(sub)
	if !ok {
		return 0, false
	}
	if !e.hasBaseline {
		e.baseline = raw
		e.hasBaseline = true
		util.LogInfof("Timestamp baseline set to %s from record type %s", util.FormatFloat(raw), rt.Name)
	}
	return raw - e.baseline, true
}
