package enhancer

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/daimatz/jenhance/pkg/classfile"
)

// Entry is one registration. Seq is global across the registry and orders
// composition: entries registered earlier wrap closer to the outside.
type Entry struct {
	Type     string
	Enhancer Enhancer
	Seq      uint64
}

// Snapshot is an immutable view of the registry.
type Snapshot struct {
	byType map[string][]Entry
	types  []string
}

// Lookup returns the entries registered for an annotation type, in
// registration order, keeping only enhancers that report support for it.
func (s *Snapshot) Lookup(annotationType string) []Entry {
	typ := classfile.AnnotationDescriptor(annotationType)
	var out []Entry
	for _, e := range s.byType[typ] {
		if e.Enhancer.Supports(typ) {
			out = append(out, e)
		}
	}
	return out
}

// Types returns the registered annotation types in first-registration order.
func (s *Snapshot) Types() []string { return slices.Clone(s.types) }

// Len returns the number of entries.
func (s *Snapshot) Len() int {
	n := 0
	for _, es := range s.byType {
		n += len(es)
	}
	return n
}

// Registry maps annotation types to enhancers. Readers take a Snapshot,
// which is never modified; Register and Unregister publish a new snapshot,
// so concurrent readers see either the old or the new registry in full.
type Registry struct {
	mu   sync.Mutex // serializes writers
	seq  uint64
	snap atomic.Pointer[Snapshot]
}

// NewRegistry returns an empty registry. The zero Registry is also ready
// to use.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds e for annotationType. Several enhancers may share a type;
// registering the same enhancer name twice for one type is an error.
func (r *Registry) Register(annotationType string, e Enhancer) error {
	typ := classfile.AnnotationDescriptor(annotationType)
	if typ == "" {
		return fmt.Errorf("register %s: empty annotation type", e.Name())
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.Snapshot()
	for _, existing := range old.byType[typ] {
		if existing.Enhancer.Name() == e.Name() {
			return fmt.Errorf("register %s: already registered for %s", e.Name(), typ)
		}
	}

	next := old.clone()
	r.seq++
	if _, ok := next.byType[typ]; !ok {
		next.types = append(next.types, typ)
	}
	next.byType[typ] = append(next.byType[typ], Entry{Type: typ, Enhancer: e, Seq: r.seq})
	r.snap.Store(next)
	return nil
}

// Unregister removes every enhancer registered for annotationType and
// reports whether any was present.
func (r *Registry) Unregister(annotationType string) bool {
	typ := classfile.AnnotationDescriptor(annotationType)

	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.Snapshot()
	if _, ok := old.byType[typ]; !ok {
		return false
	}
	next := old.clone()
	delete(next.byType, typ)
	next.types = slices.DeleteFunc(next.types, func(t string) bool { return t == typ })
	r.snap.Store(next)
	return true
}

// Snapshot returns the current registry state.
func (r *Registry) Snapshot() *Snapshot {
	if s := r.snap.Load(); s != nil {
		return s
	}
	return &Snapshot{byType: map[string][]Entry{}}
}

func (s *Snapshot) clone() *Snapshot {
	next := &Snapshot{
		byType: make(map[string][]Entry, len(s.byType)+1),
		types:  slices.Clone(s.types),
	}
	for k, v := range s.byType {
		next.byType[k] = slices.Clone(v)
	}
	return next
}
