// Package config loads record-type definitions from YAML or TOML files and
// server settings from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/pelletier/go-toml/v2/unstable"
	"gopkg.in/yaml.v3"

	"github.com/penwyp/go-log-plotter/internal/core/pattern"
)

var (
	ErrEmptyConfig       = errors.New("configuration declares no record types")
	ErrMissingPlots      = errors.New("record type has no plots")
	ErrNotMapping        = errors.New("expected a mapping")
	ErrUnsupportedFormat = errors.New("unsupported configuration format")
)

// PlotConfig is one entry under a record type's plots.
type PlotConfig struct {
	Axis  *int      `yaml:"axis" toml:"axis"`
	Style string    `yaml:"style" toml:"style"`
	Coef  *float64  `yaml:"coef" toml:"coef"`
	Ylim  []float64 `yaml:"ylim" toml:"ylim"`
}

type recordConfig struct {
	Regex string                `toml:"regex"`
	Plots map[string]PlotConfig `toml:"plots"`
}

// LoadPatternSet reads path and compiles the record types it declares.
func LoadPatternSet(path string) (*pattern.PatternSet, error) {
	defs, err := LoadDefinitions(path)
	if err != nil {
		return nil, err
	}
	ps, err := pattern.Compile(defs)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return ps, nil
}

// LoadDefinitions reads path and returns its record types in declaration
// order. The format follows the extension: .toml is TOML, anything else YAML.
func LoadDefinitions(path string) ([]pattern.Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var defs []pattern.Definition
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		defs, err = ParseTOML(data)
	case ".yaml", ".yml", "":
		defs, err = ParseYAML(data)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return defs, nil
}

// ParseYAML decodes a YAML record-type mapping. Record and field order follow
// the document.
func ParseYAML(data []byte) ([]pattern.Definition, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if doc.Kind == 0 || len(doc.Content) == 0 {
		return nil, ErrEmptyConfig
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("top level: %w", ErrNotMapping)
	}
	if len(root.Content) == 0 {
		return nil, ErrEmptyConfig
	}

	defs := make([]pattern.Definition, 0, len(root.Content)/2)
	for i := 0; i+1 < len(root.Content); i += 2 {
		name := root.Content[i].Value
		def, err := yamlRecord(name, root.Content[i+1])
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}

func yamlRecord(name string, node *yaml.Node) (pattern.Definition, error) {
	def := pattern.Definition{Name: name}
	if node.Kind != yaml.MappingNode {
		return def, fmt.Errorf("record type %q: %w", name, ErrNotMapping)
	}

	var plots *yaml.Node
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i].Value, node.Content[i+1]
		switch key {
		case "regex":
			if err := value.Decode(&def.Regex); err != nil {
				return def, fmt.Errorf("record type %q: regex: %w", name, err)
			}
		case "plots":
			plots = value
		}
	}

	if def.Regex == "" {
		return def, fmt.Errorf("record type %q: %w", name, pattern.ErrMissingRegex)
	}
	if plots == nil || plots.Tag == "!!null" {
		return def, fmt.Errorf("record type %q: %w", name, ErrMissingPlots)
	}
	if plots.Kind != yaml.MappingNode {
		return def, fmt.Errorf("record type %q: plots: %w", name, ErrNotMapping)
	}

	for i := 0; i+1 < len(plots.Content); i += 2 {
		field := plots.Content[i].Value
		var pc PlotConfig
		if err := plots.Content[i+1].Decode(&pc); err != nil {
			return def, fmt.Errorf("record type %q: field %q: %w", name, field, err)
		}
		def.Fields = append(def.Fields, pc.definition(field))
	}
	return def, nil
}

// ParseTOML decodes a TOML document whose top-level tables are record types.
// Record order follows the document; fields within a record are sorted by
// name.
func ParseTOML(data []byte) ([]pattern.Definition, error) {
	var raw map[string]recordConfig
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse TOML: %w", err)
	}
	if len(raw) == 0 {
		return nil, ErrEmptyConfig
	}

	order, err := tomlRecordOrder(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse TOML: %w", err)
	}

	defs := make([]pattern.Definition, 0, len(raw))
	for _, name := range order {
		rc, ok := raw[name]
		if !ok {
			continue
		}
		if rc.Regex == "" {
			return nil, fmt.Errorf("record type %q: %w", name, pattern.ErrMissingRegex)
		}
		if rc.Plots == nil {
			return nil, fmt.Errorf("record type %q: %w", name, ErrMissingPlots)
		}

		def := pattern.Definition{Name: name, Regex: rc.Regex}
		fields := make([]string, 0, len(rc.Plots))
		for field := range rc.Plots {
			fields = append(fields, field)
		}
		sort.Strings(fields)
		for _, field := range fields {
			def.Fields = append(def.Fields, rc.Plots[field].definition(field))
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// tomlRecordOrder lists top-level keys in the order they first appear, either
// as a table header ([cpu], [cpu.plots.usage]) or as a top-level key/value.
func tomlRecordOrder(data []byte) ([]string, error) {
	var (
		p       unstable.Parser
		order   []string
		seen    = make(map[string]bool)
		inTable bool
	)
	p.Reset(data)

	for p.NextExpression() {
		expr := p.Expression()
		switch expr.Kind {
		case unstable.Table, unstable.ArrayTable:
			inTable = true
		case unstable.KeyValue:
			if inTable {
				continue
			}
		default:
			continue
		}

		it := expr.Key()
		if !it.Next() {
			continue
		}
		name := string(it.Node().Data)
		if !seen[name] {
			seen[name] = true
			order = append(order, name)
		}
	}
	if err := p.Error(); err != nil {
		return nil, err
	}
	return order, nil
}

func (pc PlotConfig) definition(field string) pattern.FieldDefinition {
	return pattern.FieldDefinition{
		Name:  field,
		Axis:  pc.Axis,
		Style: pc.Style,
		Coef:  pc.Coef,
		Clamp: pc.Ylim,
	}
}
