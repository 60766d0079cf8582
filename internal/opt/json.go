package opt

import (
	"encoding/json"
	"math"
	"strconv"
)

// Float is a float64 whose JSON form keeps NaN and ±Inf as the strings
// "NaN", "+Inf" and "-Inf", which encoding/json refuses to write as numbers.
type Float float64

func (f Float) MarshalJSON() ([]byte, error) {
	v := float64(f)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return json.Marshal(strconv.FormatFloat(v, 'g', -1, 64))
	}
	return json.Marshal(v)
}

func (f *Float) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		*f = Float(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*f = Float(v)
	return nil
}

// Floats is a []float64 encoded element-wise like Float
type Floats []float64

func (fs Floats) MarshalJSON() ([]byte, error) {
	if fs == nil {
		return []byte("null"), nil
	}
	out := make([]Float, len(fs))
	for i, v := range fs {
		out[i] = Float(v)
	}
	return json.Marshal(out)
}

func (fs *Floats) UnmarshalJSON(b []byte) error {
	var in []Float
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	if in == nil {
		*fs = nil
		return nil
	}
	out := make(Floats, len(in))
	for i, v := range in {
		out[i] = float64(v)
	}
	*fs = out
	return nil
}

// MarshalJSON writes the outcome, keeping a non-finite objective value
func (o Outcome) MarshalJSON() ([]byte, error) {
	type plain Outcome
	return json.Marshal(struct {
		plain
		F Float `json:"fun"`
	}{plain(o), Float(o.F)})
}

// UnmarshalJSON reads an outcome written by MarshalJSON
func (o *Outcome) UnmarshalJSON(b []byte) error {
	type plain Outcome
	aux := struct {
		*plain
		F Float `json:"fun"`
	}{plain: (*plain)(o)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	o.F = float64(aux.F)
	return nil
}
