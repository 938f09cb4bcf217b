package scheme

import "fmt"

// Registry resolves (kind, network) to a scheme. It is fixed at construction.
type Registry struct {
	schemes []Scheme
}

// NewRegistry fails if two schemes share a kind.
func NewRegistry(schemes ...Scheme) (*Registry, error) {
	seen := make(map[Kind]bool, len(schemes))
	for _, s := range schemes {
		if seen[s.Kind()] {
			return nil, fmt.Errorf("scheme %q registered twice", s.Kind())
		}
		seen[s.Kind()] = true
	}
	return &Registry{schemes: append([]Scheme(nil), schemes...)}, nil
}

func (r *Registry) Resolve(kind Kind, network string) (Scheme, error) {
	for _, s := range r.schemes {
		if s.Kind() == kind && s.Supports(network) {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%w: %s on %s", ErrNoScheme, kind, network)
}

// Kinds lists registered kinds in registration order.
func (r *Registry) Kinds() []Kind {
	out := make([]Kind, 0, len(r.schemes))
	for _, s := range r.schemes {
		out = append(out, s.Kind())
	}
	return out
}
