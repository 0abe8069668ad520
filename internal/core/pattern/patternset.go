// Package pattern compiles configured record types into an immutable
// PatternSet. Field names are resolved to capture-group indexes once at load
// time so the per-line path never looks groups up by name.
package pattern

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"

	"github.com/penwyp/go-log-plotter/internal/util"
)

// Reserved capture group names carrying the line timestamp.
const (
	TSGroup     = "ts"      // plain seconds, parsed as a float
	TimeTSGroup = "time_ts" // [±]HH:MM:SS[.frac]
)

const maxAxis = 255

var (
	ErrEmptyPatternSet = errors.New("no record types configured")
	ErrDuplicateRecord = errors.New("duplicate record type")
	ErrMissingRegex    = errors.New("record type has no regex")
	ErrBadRegex        = errors.New("regex does not compile")
	ErrNoFields        = errors.New("record type declares no fields")
	ErrMissingGroup    = errors.New("field has no matching capture group")
	ErrInvalidClamp    = errors.New("invalid clamp range")
	ErrInvalidAxis     = errors.New("axis out of range")
	ErrInvalidCoef     = errors.New("invalid coef")
)

// FieldDefinition is the configured form of one output field.
type FieldDefinition struct {
	Name  string
	Axis  *int
	Style string
	Coef  *float64
	Clamp []float64
}

// Definition is the configured form of one record type.
type Definition struct {
	Name   string
	Regex  string
	Fields []FieldDefinition
}

// Clamp bounds a field's scaled value.
type Clamp struct {
	Min float64
	Max float64
}

// FieldSpec is a compiled output field. Immutable once loaded.
type FieldSpec struct {
	Name  string
	Axis  *int
	Style string
	Coef  float64
	Clamp *Clamp

	group int
}

// Group is the capture-group index holding the field's value.
func (f FieldSpec) Group() int { return f.group }

// Scale applies coef and then the clamp range, if any.
func (f FieldSpec) Scale(v float64) float64 {
	v *= f.Coef
	if f.Clamp != nil {
		if v < f.Clamp.Min {
			v = f.Clamp.Min
		} else if v > f.Clamp.Max {
			v = f.Clamp.Max
		}
	}
	return v
}

// RecordType is a named pattern plus its declared output fields.
type RecordType struct {
	Name    string
	Pattern *regexp.Regexp
	Fields  []FieldSpec

	tsGroup     int
	timeTSGroup int
}

// HasTimestamp reports whether the pattern can ever resolve a timestamp.
func (rt *RecordType) HasTimestamp() bool {
	return rt.tsGroup > 0 || rt.timeTSGroup > 0
}

// RawTimestamp resolves the absolute timestamp of a match: the ts group as
// seconds, else the time_ts group as a clock value.
func (rt *RecordType) RawTimestamp(sub []string) (float64, bool) {
	if rt.tsGroup > 0 && rt.tsGroup < len(sub) && sub[rt.tsGroup] != "" {
		if v, err := strconv.ParseFloat(sub[rt.tsGroup], 64); err == nil && finite(v) {
			return v, true
		}
	}
	if rt.timeTSGroup > 0 && rt.timeTSGroup < len(sub) && sub[rt.timeTSGroup] != "" {
		if v, err := ParseClock(sub[rt.timeTSGroup]); err == nil {
			return v, true
		}
	}
	return 0, false
}

// FieldNames lists declared field names in declaration order.
func (rt *RecordType) FieldNames() []string {
	names := make([]string, len(rt.Fields))
	for i, f := range rt.Fields {
		names[i] = f.Name
	}
	return names
}

// PatternSet is the ordered, read-only collection of record types. It is
// safe for concurrent use without locking.
type PatternSet struct {
	types  []*RecordType
	byName map[string]*RecordType
}

// Types returns the record types in configuration order. Callers must not
// modify the returned slice.
func (ps *PatternSet) Types() []*RecordType { return ps.types }

// Len is the number of record types.
func (ps *PatternSet) Len() int { return len(ps.types) }

// Lookup finds a record type by name.
func (ps *PatternSet) Lookup(name string) (*RecordType, bool) {
	rt, ok := ps.byName[name]
	return rt, ok
}

// Compile validates every definition and builds the PatternSet. All errors
// are fatal startup errors.
func Compile(defs []Definition) (*PatternSet, error) {
	if len(defs) == 0 {
		return nil, ErrEmptyPatternSet
	}

	ps := &PatternSet{
		types:  make([]*RecordType, 0, len(defs)),
		byName: make(map[string]*RecordType, len(defs)),
	}
	for _, def := range defs {
		if _, dup := ps.byName[def.Name]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateRecord, def.Name)
		}
		rt, err := compileRecord(def)
		if err != nil {
			return nil, fmt.Errorf("record type %q: %w", def.Name, err)
		}
		ps.types = append(ps.types, rt)
		ps.byName[rt.Name] = rt
	}
	return ps, nil
}

func compileRecord(def Definition) (*RecordType, error) {
	if def.Regex == "" {
		return nil, ErrMissingRegex
	}
	re, err := regexp.Compile(def.Regex)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadRegex, err)
	}

	rt := &RecordType{
		Name:        def.Name,
		Pattern:     re,
		tsGroup:     re.SubexpIndex(TSGroup),
		timeTSGroup: re.SubexpIndex(TimeTSGroup),
	}
	if rt.tsGroup < 0 {
		rt.tsGroup = 0
	}
	if rt.timeTSGroup < 0 {
		rt.timeTSGroup = 0
	}

	for _, fd := range def.Fields {
		if fd.Name == TSGroup || fd.Name == TimeTSGroup {
			util.LogWarnf("Record type %s: %q is a reserved timestamp group and is not plotted", def.Name, fd.Name)
			continue
		}
		spec, err := compileField(re, fd)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", fd.Name, err)
		}
		rt.Fields = append(rt.Fields, spec)
	}
	if len(rt.Fields) == 0 {
		return nil, ErrNoFields
	}

	if !rt.HasTimestamp() {
		util.LogWarnf("Record type %s has no %q or %q group; its blocks fall back to a counter timestamp",
			def.Name, TSGroup, TimeTSGroup)
	}
	return rt, nil
}

func compileField(re *regexp.Regexp, fd FieldDefinition) (FieldSpec, error) {
	group := re.SubexpIndex(fd.Name)
	if group < 0 {
		return FieldSpec{}, ErrMissingGroup
	}

	spec := FieldSpec{
		Name:  fd.Name,
		Style: fd.Style,
		Coef:  1.0,
		group: group,
	}

	if fd.Axis != nil {
		if *fd.Axis < 0 || *fd.Axis > maxAxis {
			return FieldSpec{}, fmt.Errorf("%w: %d", ErrInvalidAxis, *fd.Axis)
		}
		axis := *fd.Axis
		spec.Axis = &axis
	}

	if fd.Coef != nil {
		if !finite(*fd.Coef) {
			return FieldSpec{}, fmt.Errorf("%w: %v", ErrInvalidCoef, *fd.Coef)
		}
		spec.Coef = *fd.Coef
	}

	if fd.Clamp != nil {
		if len(fd.Clamp) != 2 {
			return FieldSpec{}, fmt.Errorf("%w: want [min, max], got %d values", ErrInvalidClamp, len(fd.Clamp))
		}
		lo, hi := fd.Clamp[0], fd.Clamp[1]
		if !finite(lo) || !finite(hi) || lo > hi {
			return FieldSpec{}, fmt.Errorf("%w: [%v, %v]", ErrInvalidClamp, lo, hi)
		}
		spec.Clamp = &Clamp{Min: lo, Max: hi}
	}

	return spec, nil
}
