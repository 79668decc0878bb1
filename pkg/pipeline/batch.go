package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// Input is one class binary of a batch.
type Input struct {
	Name string
	Data []byte
}

// Output pairs an input with its run. Result is nil only for inputs that
// were never started because ctx was done.
type Output struct {
	Name   string
	Result *Result
	Err    error
}

// RunAll enhances distinct classes in parallel, at most concurrency at a
// time (unbounded when concurrency <= 0). Outputs are in input order. The
// error combines the failure of every input; each Output still carries a
// usable Result unless the input was skipped. Cancelling ctx stops inputs
// that have not started.
func (p *Pipeline) RunAll(ctx context.Context, inputs []Input, concurrency int) ([]Output, error) {
	out := make([]Output, len(inputs))

	var g errgroup.Group
	if concurrency > 0 {
		g.SetLimit(concurrency)
	}
	for i, in := range inputs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				out[i] = Output{Name: in.Name, Err: err}
				return err
			}
			res, err := p.Run(in.Data)
			out[i] = Output{Name: in.Name, Result: res, Err: err}
			return nil
		})
	}
	ctxErr := g.Wait()

	var errs error
	for _, o := range out {
		if o.Err != nil && o.Result != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", o.Name, o.Err))
		}
	}
	return out, multierr.Append(errs, ctxErr)
}
