package maximize

import (
	"encoding/json"
	"fmt"

	"github.com/cwbudde/maximizer/internal/opt"
)

// MaximumName names the published record
const MaximumName = "maximum"

// MaximumRecord is the verified maximum with its full decomposition
type MaximumRecord struct {
	Name string `json:"name"`
	// Kind is "posterior" or "likelihood"
	Kind            string    `json:"kind"`
	ParamNames      []string  `json:"paramNames"`
	X               []float64 `json:"x"`
	LogPost         float64   `json:"logpost"`
	LogPriors       []float64 `json:"logpriors"`
	LikelihoodNames []string  `json:"likelihoodNames"`
	LogLikes        []float64 `json:"loglikes"`
	DerivedNames    []string  `json:"derivedNames,omitempty"`
	Derived         []float64 `json:"derived,omitempty"`
}

// Value returns the maximized quantity: LogPost, or the log-likelihood sum for Kind "likelihood"
func (r MaximumRecord) Value() float64 {
	if r.Kind == Likelihood.String() {
		var sum float64
		for _, v := range r.LogLikes {
			sum += v
		}
		return sum
	}
	return r.LogPost
}

// Product is what the coordinator returns from a run
type Product struct {
	Maximum MaximumRecord `json:"maximum"`
	Outcome opt.Outcome   `json:"outcome"`
	// Rank of the participant that found the maximum
	Rank int `json:"rank"`
	// Forced is set when the winning search only succeeded through ForceSuccess
	Forced bool `json:"forced"`
}

// Names describes the coordinates of a model
type Names interface {
	ParamNames() []string
	LikelihoodNames() []string
	DerivedNames() []string
}

// Sink persists a published maximum
type Sink interface {
	SaveMaximum(rec MaximumRecord, outcome opt.Outcome) error
}

// Publisher packages verified maxima
type Publisher struct {
	Names Names
	Mode  Mode
	// Sink is optional
	Sink Sink
}

// Publish builds the record for v and hands it to the sink
func (p Publisher) Publish(v Verified, o opt.Outcome) (MaximumRecord, error) {
	rec := MaximumRecord{
		Name:            MaximumName,
		Kind:            p.Mode.String(),
		ParamNames:      p.Names.ParamNames(),
		X:               append([]float64(nil), v.X...),
		LogPost:         v.Evaluation.LogPost,
		LogPriors:       append([]float64(nil), v.Evaluation.LogPriors...),
		LikelihoodNames: p.Names.LikelihoodNames(),
		LogLikes:        append([]float64(nil), v.Evaluation.LogLikes...),
		DerivedNames:    p.Names.DerivedNames(),
		Derived:         append([]float64(nil), v.Evaluation.Derived...),
	}

	if p.Sink != nil {
		if err := p.Sink.SaveMaximum(rec, o.Clone()); err != nil {
			return rec, fmt.Errorf("failed to save maximum: %w", err)
		}
	}
	return rec, nil
}

// MarshalJSON keeps non-finite log-densities, e.g. a likelihood maximum outside the prior support
func (r MaximumRecord) MarshalJSON() ([]byte, error) {
	type plain MaximumRecord
	return json.Marshal(struct {
		plain
		LogPost   opt.Float  `json:"logpost"`
		LogPriors opt.Floats `json:"logpriors"`
		LogLikes  opt.Floats `json:"loglikes"`
		Derived   opt.Floats `json:"derived,omitempty"`
	}{plain(r), opt.Float(r.LogPost), opt.Floats(r.LogPriors), opt.Floats(r.LogLikes), opt.Floats(r.Derived)})
}

// UnmarshalJSON reads a record written by MarshalJSON
func (r *MaximumRecord) UnmarshalJSON(b []byte) error {
	type plain MaximumRecord
	aux := struct {
		*plain
		LogPost   opt.Float  `json:"logpost"`
		LogPriors opt.Floats `json:"logpriors"`
		LogLikes  opt.Floats `json:"loglikes"`
		Derived   opt.Floats `json:"derived,omitempty"`
	}{plain: (*plain)(r)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	r.LogPost = float64(aux.LogPost)
	r.LogPriors = aux.LogPriors
	r.LogLikes = aux.LogLikes
	r.Derived = aux.Derived
	return nil
}
