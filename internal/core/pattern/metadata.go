package pattern

// FieldMeta is the public description of a field. It never includes the
// pattern.
type FieldMeta struct {
	Axis  *int        `json:"axis,omitempty"`
	Style string      `json:"style,omitempty"`
	Coef  float64     `json:"coef"`
	Ylim  *[2]float64 `json:"ylim,omitempty"`
}

// RecordMeta describes one record type's fields.
type RecordMeta struct {
	Plots map[string]FieldMeta `json:"plots"`
}

// Metadata maps record type name to its field metadata.
type Metadata map[string]RecordMeta

// Metadata returns the serializable description of every record type.
func (ps *PatternSet) Metadata() Metadata {
	meta := make(Metadata, len(ps.types))
	for _, rt := range ps.types {
		plots := make(map[string]FieldMeta, len(rt.Fields))
		for _, f := range rt.Fields {
			fm := FieldMeta{Axis: f.Axis, Style: f.Style, Coef: f.Coef}
			if f.Clamp != nil {
				fm.Ylim = &[2]float64{f.Clamp.Min, f.Clamp.Max}
			}
			plots[f.Name] = fm
		}
		meta[rt.Name] = RecordMeta{Plots: plots}
	}
	return meta
}
