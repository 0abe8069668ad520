package model

import (
	"fmt"
	"math"

	"github.com/bytedance/sonic"
)

// BlockTSKey is the JSON key carrying a block's timestamp. Field names equal
// to it are reserved and never appear in Block.Fields.
const BlockTSKey = "ts"

// blockJSON sorts map keys so serialized blocks are stable.
var blockJSON = sonic.ConfigStd

// Sample is one extracted value at a baseline-relative timestamp. It
// serializes as a two-element array [ts, value].
type Sample struct {
	TS    float64
	Value float64
}

func (s Sample) MarshalJSON() ([]byte, error) {
	return sonic.Marshal([2]float64{s.TS, s.Value})
}

func (s *Sample) UnmarshalJSON(data []byte) error {
	var pair []float64
	if err := sonic.Unmarshal(data, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("sample must be [ts, value], got %d elements", len(pair))
	}
	s.TS, s.Value = pair[0], pair[1]
	return nil
}

// Block is the extraction result of one batch of lines. Blocks are immutable
// once appended to a retention buffer; readers share them without copying.
type Block struct {
	Fields map[string][]Sample
	TS     float64
}

// NewBlock returns an empty block.
func NewBlock() *Block {
	return &Block{Fields: make(map[string][]Sample)}
}

// SampleCount is the total number of samples across all fields.
func (b *Block) SampleCount() int {
	n := 0
	for _, samples := range b.Fields {
		n += len(samples)
	}
	return n
}

// MarshalJSON renders {"<field>": [[ts,val],...], ..., "ts": <float>}.
func (b *Block) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(b.Fields)+1)
	for name, samples := range b.Fields {
		if samples == nil {
			samples = []Sample{}
		}
		out[name] = samples
	}
	out[BlockTSKey] = b.TS
	return blockJSON.Marshal(out)
}

func (b *Block) UnmarshalJSON(data []byte) error {
	var raw map[string]interface{}
	if err := sonic.Unmarshal(data, &raw); err != nil {
		return err
	}

	fields := make(map[string][]Sample, len(raw))
	var ts float64
	for key, value := range raw {
		if key == BlockTSKey {
			f, ok := value.(float64)
			if !ok {
				return fmt.Errorf("block ts must be a number, got %T", value)
			}
			ts = f
			continue
		}
		samples, err := decodeSamples(key, value)
		if err != nil {
			return err
		}
		fields[key] = samples
	}

	b.Fields = fields
	b.TS = ts
	return nil
}

func decodeSamples(field string, value interface{}) ([]Sample, error) {
	list, ok := value.([]interface{})
	if !ok {
		return nil, fmt.Errorf("field %q must be an array of samples", field)
	}
	samples := make([]Sample, 0, len(list))
	for _, item := range list {
		pair, ok := item.([]interface{})
		if !ok || len(pair) != 2 {
			return nil, fmt.Errorf("field %q: sample must be [ts, value]", field)
		}
		ts, ok1 := pair[0].(float64)
		val, ok2 := pair[1].(float64)
		if !ok1 || !ok2 {
			return nil, fmt.Errorf("field %q: sample elements must be numbers", field)
		}
		samples = append(samples, Sample{TS: ts, Value: val})
	}
	return samples, nil
}

// Finite reports whether v can be carried in a JSON document.
func Finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
