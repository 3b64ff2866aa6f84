package model

import "fmt"

// Kind tags a serialized model.
type Kind string

const (
	KindLinear   Kind = "linear"
	KindEnsemble Kind = "ensemble"
)

// Envelope is the serializable form of a Model. Exactly one payload is set,
// matching Kind.
type Envelope struct {
	Kind     Kind      `json:"kind"`
	Linear   *Linear   `json:"linear,omitempty"`
	Ensemble *Ensemble `json:"ensemble,omitempty"`
}

// Wrap packs a model for serialization. A nil model yields a nil envelope.
func Wrap(m Model) (*Envelope, error) {
	switch v := m.(type) {
	case nil:
		return nil, nil
	case *Linear:
		return &Envelope{Kind: KindLinear, Linear: v}, nil
	case *Ensemble:
		return &Envelope{Kind: KindEnsemble, Ensemble: v}, nil
	default:
		return nil, fmt.Errorf("wrap model: unsupported type %T", m)
	}
}

// Model unpacks the envelope, validating it against the expected feature
// width. A width of 0 skips the width check.
func (e *Envelope) Model(width int) (Model, error) {
	switch e.Kind {
	case KindLinear:
		if e.Linear == nil {
			return nil, fmt.Errorf("linear envelope has no payload")
		}
		if width > 0 && len(e.Linear.Coefficients) != width {
			return nil, fmt.Errorf("linear model has %d coefficients, want %d", len(e.Linear.Coefficients), width)
		}
		return e.Linear, nil
	case KindEnsemble:
		if e.Ensemble == nil {
			return nil, fmt.Errorf("ensemble envelope has no payload")
		}
		for t, tree := range e.Ensemble.Trees {
			if err := tree.validate(width); err != nil {
				return nil, fmt.Errorf("tree %d: %w", t, err)
			}
		}
		return e.Ensemble, nil
	default:
		return nil, fmt.Errorf("unknown model kind %q", e.Kind)
	}
}

// validate checks that child links stay in bounds and point forward, so
// Predict always terminates, and that split columns fit the width.
func (t *Tree) validate(width int) error {
	if len(t.Nodes) == 0 {
		return fmt.Errorf("empty tree")
	}
	for i, n := range t.Nodes {
		if n.Feature < 0 {
			continue
		}
		if width > 0 && n.Feature >= width {
			return fmt.Errorf("node %d splits on column %d of %d", i, n.Feature, width)
		}
		if n.Left <= i || n.Right <= i || n.Left >= len(t.Nodes) || n.Right >= len(t.Nodes) {
			return fmt.Errorf("node %d has invalid children %d, %d", i, n.Left, n.Right)
		}
	}
	return nil
}
