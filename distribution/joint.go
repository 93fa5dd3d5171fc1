package distribution

import (
	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
)

// Joint is the product of its components, written the usual way round:
// p(x | z) p(z) is NewJoint(likelihood, prior). Sampling is ancestral from
// the last component to the first, so each component's conditioning
// variables must be given or generated by a component after it.
type Joint struct {
	parts []Distribution
	mode  Mode
}

// NewJoint combines the parts. At least one part is required.
func NewJoint(parts ...Distribution) (*Joint, error) {
	if len(parts) < 1 {
		return nil, errors.New("Joint needs at least one component")
	}

	seen := make(map[string]bool)
	for _, p := range parts {
		for _, v := range p.Vars() {
			if seen[v] {
				return nil, errors.Errorf("Variable %s is generated by more than one component", v)
			}
			seen[v] = true
		}
	}

	return &Joint{parts: parts}, nil
}

// Parts returns the components in order
func (j *Joint) Parts() []Distribution { return j.parts }

// Name implements Distribution
func (j *Joint) Name() string { return JointName }

// Vars implements Distribution
func (j *Joint) Vars() []string {
	var vs []string
	for _, p := range j.parts {
		vs = append(vs, p.Vars()...)
	}
	return vs
}

// CondVars are the conditioning variables no component generates
func (j *Joint) CondVars() []string {
	gen := make(map[string]bool)
	for _, v := range j.Vars() {
		gen[v] = true
	}

	var cv []string
	dup := make(map[string]bool)
	for _, p := range j.parts {
		for _, v := range p.CondVars() {
			if !gen[v] && !dup[v] {
				cv = append(cv, v)
				dup[v] = true
			}
		}
	}
	return cv
}

// Parameters are the components' parameters in component order
func (j *Joint) Parameters() G.Nodes {
	var ps G.Nodes
	for _, p := range j.parts {
		ps = append(ps, p.Parameters()...)
	}
	return ps
}

// SetMode implements Distribution
func (j *Joint) SetMode(m Mode) {
	j.mode = m
	for _, p := range j.parts {
		p.SetMode(m)
	}
}

// Mode implements Distribution
func (j *Joint) Mode() Mode { return j.mode }

// Sample implements Distribution
func (j *Joint) Sample(given Observation) (Observation, error) {
	out := given
	var err error
	for i := len(j.parts) - 1; i >= 0; i-- {
		out, err = j.parts[i].Sample(out)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// LogLikelihood is the sum of the components' log likelihoods
func (j *Joint) LogLikelihood(samples Observation) (*G.Node, error) {
	var total *G.Node
	for _, p := range j.parts {
		ll, err := p.LogLikelihood(samples)
		if err != nil {
			return nil, err
		}
		if total == nil {
			total = ll
			continue
		}
		total, err = G.Add(total, ll)
		if err != nil {
			return nil, errors.Wrapf(err, "Joint: adding %s log likelihood", p.Name())
		}
	}
	return total, nil
}

// Refresh implements Refresher
func (j *Joint) Refresh() error {
	return Refresh(j.parts...)
}
