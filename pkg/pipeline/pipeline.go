// Package pipeline enhances class binaries: it parses a class, indexes its
// annotations, offers each annotated method to the registered enhancers and
// generates the enhanced class. Enhancement fails open: whenever the class
// cannot be enhanced as a whole, the caller gets the original bytes back.
package pipeline

import (
	"cmp"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/daimatz/jenhance/pkg/annotations"
	"github.com/daimatz/jenhance/pkg/classfile"
	"github.com/daimatz/jenhance/pkg/enhancer"
	"github.com/daimatz/jenhance/pkg/generator"
)

// Applied describes one intent generated into the output class.
type Applied struct {
	Enhancer   string
	Annotation string
	Method     string // name and descriptor of the wrapped method
	Wrapper    string
}

func (a Applied) String() string {
	return fmt.Sprintf("%s: %s @%s", a.Enhancer, a.Method, classfile.DescriptorClassName(a.Annotation))
}

// Warning records an annotated element an enhancer declined.
type Warning struct {
	Enhancer   string
	Method     string
	Annotation string
	Err        error
}

func (w Warning) String() string {
	return fmt.Sprintf("%s skipped %s: %v", w.Enhancer, w.Method, w.Err)
}

// Result is the outcome of one run. Output is always usable: it is the
// enhanced class when Enhanced is set and the input otherwise.
type Result struct {
	ID       string
	Class    string
	Output   []byte
	Applied  []Applied
	Warnings []Warning
	State    State
	Enhanced bool
}

// Pipeline is safe for concurrent use; every Run owns its model and
// generator and shares only the registry and the interner.
type Pipeline struct {
	registry     *enhancer.Registry
	logger       *zap.Logger
	metrics      *Metrics
	interner     classfile.Interner
	maxClassSize int
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithMetrics records runs in m.
func WithMetrics(m *Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithInterner canonicalizes constant pool strings through in.
func WithInterner(in classfile.Interner) Option {
	return func(p *Pipeline) { p.interner = in }
}

// WithMaxClassSize rejects inputs larger than n bytes.
func WithMaxClassSize(n int) Option {
	return func(p *Pipeline) { p.maxClassSize = n }
}

// New returns a pipeline dispatching to the enhancers in reg. The registry
// may be changed while the pipeline runs; each run uses one snapshot.
func New(reg *enhancer.Registry, opts ...Option) *Pipeline {
	p := &Pipeline{
		registry:     reg,
		logger:       zap.NewNop(),
		maxClassSize: classfile.DefaultMaxSize,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.registry == nil {
		p.registry = enhancer.NewRegistry()
	}
	return p
}

// Registry returns the registry the pipeline dispatches to.
func (p *Pipeline) Registry() *enhancer.Registry { return p.registry }

type run struct {
	p   *Pipeline
	res *Result
	log *zap.Logger
}

type candidate struct {
	entry enhancer.Entry
	ann   *classfile.Annotation
}

// Run enhances one class binary. A malformed input yields a
// *classfile.FormatError. A terminal enhancer failure, a panic or a
// *generator.GenerationError abandons enhancement; the Result then carries
// the original bytes and the error says why. data is never modified.
func (p *Pipeline) Run(data []byte) (res *Result, err error) {
	start := time.Now()
	r := &run{p: p, res: &Result{ID: uuid.NewString(), Output: data}}
	r.log = p.logger.With(zap.String("run", r.res.ID))

	outcome := OutcomeFailOpen
	defer func() {
		if v := recover(); v != nil {
			outcome = OutcomeFailOpen
			err = fmt.Errorf("enhancing %s: panic: %v", r.res.Class, v)
		}
		if err != nil && outcome == OutcomeFailOpen {
			r.failOpen(data, err)
		}
		res = r.res
		p.metrics.observe(res, outcome, time.Since(start))
	}()

	outcome, err = r.execute(data)
	return r.res, err
}

func (r *run) execute(data []byte) (string, error) {
	cf, err := classfile.ParseBytes(data, r.parseOptions()...)
	if err != nil {
		r.log.Warn("rejecting malformed class binary", zap.Int("size", len(data)), zap.Error(err))
		return OutcomeMalformed, err
	}
	if err := r.advance(StateLoaded); err != nil {
		return OutcomeFailOpen, err
	}
	r.res.Class, _ = cf.ClassName()
	r.log = r.log.With(zap.String("class", r.res.Class))

	ix := annotations.NewIndex(cf)
	if err := r.advance(StateIndexed); err != nil {
		return OutcomeFailOpen, err
	}
	if ix.Len() == 0 {
		r.log.Debug("no method annotations")
	}

	gen := generator.New(cf)
	applied, err := r.enhance(ix, gen)
	if err != nil {
		return OutcomeFailOpen, err
	}
	if err := r.advance(StateEnhanced); err != nil {
		return OutcomeFailOpen, err
	}

	if len(applied) == 0 && len(gen.Fragments()) == 0 {
		if err := r.advance(StateGenerated); err != nil {
			return OutcomeFailOpen, err
		}
		return OutcomeUnchanged, nil
	}

	out, err := gen.Generate()
	if err != nil {
		return OutcomeFailOpen, err
	}
	if err := r.advance(StateGenerated); err != nil {
		return OutcomeFailOpen, err
	}
	r.res.Output = out
	r.res.Applied = applied
	r.res.Enhanced = true
	for _, a := range applied {
		r.log.Debug("applied enhancement",
			zap.String("enhancer", a.Enhancer),
			zap.String("method", a.Method),
			zap.String("wrapper", a.Wrapper))
	}
	return OutcomeEnhanced, nil
}

// enhance offers every annotated method to its candidate enhancers. The
// candidates of one method run in registration order whatever the order of
// the annotations on the method.
func (r *run) enhance(ix *annotations.Index, gen *generator.Generator) ([]Applied, error) {
	snap := r.p.registry.Snapshot()
	var (
		applied []Applied
		cur     *classfile.MethodInfo
		cands   []candidate
	)
	flush := func() error {
		slices.SortStableFunc(cands, func(a, b candidate) int {
			return cmp.Compare(a.entry.Seq, b.entry.Seq)
		})
		for _, c := range cands {
			a, err := r.offer(ix.Class(), cur, c, gen)
			if err != nil {
				return err
			}
			if a != nil {
				applied = append(applied, *a)
			}
		}
		cands = cands[:0]
		return nil
	}

	// All yields the annotations of one method contiguously.
	for m, ann := range ix.All() {
		if m != cur {
			if err := flush(); err != nil {
				return nil, err
			}
			cur = m
		}
		for _, e := range snap.Lookup(ann.Type) {
			cands = append(cands, candidate{entry: e, ann: ann})
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return applied, nil
}

func (r *run) offer(cf *classfile.ClassFile, m *classfile.MethodInfo, c candidate, gen *generator.Generator) (*Applied, error) {
	e := c.entry.Enhancer
	method := m.Name + m.Descriptor
	intent, err := e.Enhance(cf, m, c.ann, gen)
	switch {
	case enhancer.IsEnhancementError(err):
		r.res.Warnings = append(r.res.Warnings, Warning{
			Enhancer:   e.Name(),
			Method:     method,
			Annotation: c.ann.Type,
			Err:        err,
		})
		r.log.Warn("enhancement skipped",
			zap.String("enhancer", e.Name()),
			zap.String("method", method),
			zap.Error(err))
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("enhancer %s on %s: %w", e.Name(), method, err)
	case intent == nil:
		return nil, nil
	}

	if intent.Enhancer == "" {
		intent.Enhancer = e.Name()
	}
	gen.Add(intent)
	return &Applied{
		Enhancer:   intent.Enhancer,
		Annotation: c.ann.Type,
		Method:     method,
		Wrapper:    intent.WrapperName(),
	}, nil
}

func (r *run) failOpen(data []byte, err error) {
	r.res.Output = data
	r.res.Applied = nil
	r.res.Enhanced = false
	r.log.Warn("enhancement abandoned, returning original class",
		zap.Stringer("state", r.res.State),
		zap.Error(err))
}

func (r *run) parseOptions() []classfile.Option {
	opts := []classfile.Option{classfile.WithMaxSize(r.p.maxClassSize)}
	if r.p.interner != nil {
		opts = append(opts, classfile.WithInterner(r.p.interner))
	}
	return opts
}
