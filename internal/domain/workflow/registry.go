package workflow

import (
	"fmt"
	"sort"
)

// Registry holds the definitions of every supported document type.
// It is read-only once constructed.
type Registry struct {
	defs map[DocumentType]*Definition
}

// NewRegistry creates a registry from definitions; duplicate types panic
func NewRegistry(defs ...*Definition) *Registry {
	r := &Registry{defs: make(map[DocumentType]*Definition, len(defs))}
	for _, d := range defs {
		if _, exists := r.defs[d.Type]; exists {
			panic(fmt.Sprintf("duplicate definition for %s", d.Type))
		}
		r.defs[d.Type] = d
	}
	return r
}

// Definition returns the definition of docType or a not-found error
func (r *Registry) Definition(docType DocumentType) (*Definition, error) {
	d, ok := r.defs[docType]
	if !ok {
		return nil, NewError(KindNotFound, "registry", "unknown document type %q", docType)
	}
	return d, nil
}

// Chain returns the ordered non-terminal steps of docType, nil when unknown
func (r *Registry) Chain(docType DocumentType) []Step {
	d, ok := r.defs[docType]
	if !ok {
		return nil
	}
	return append([]Step(nil), d.Steps...)
}

// IsTerminal reports whether state is terminal for docType
func (r *Registry) IsTerminal(docType DocumentType, state State) bool {
	d, ok := r.defs[docType]
	return ok && d.IsTerminal(state)
}

// NextState returns the state after state for docType
func (r *Registry) NextState(docType DocumentType, state State) (State, bool) {
	d, ok := r.defs[docType]
	if !ok {
		return "", false
	}
	return d.NextState(state)
}

// Types returns the registered document types in lexical order
func (r *Registry) Types() []DocumentType {
	types := make([]DocumentType, 0, len(r.defs))
	for t := range r.defs {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// BatchedTypes returns the types grouped by calendar day
func (r *Registry) BatchedTypes() []DocumentType {
	var types []DocumentType
	for _, t := range r.Types() {
		if r.defs[t].Batched() {
			types = append(types, t)
		}
	}
	return types
}
