package pipeline

import (
	"errors"
	"fmt"
)

// State is the stage a run has completed.
type State int

const (
	StateNew State = iota
	StateLoaded
	StateIndexed
	StateEnhanced
	StateGenerated
)

var stateNames = [...]string{"new", "loaded", "indexed", "enhanced", "generated"}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// ErrInvalidTransition is returned when a run tries to skip or repeat a
// stage.
var ErrInvalidTransition = errors.New("invalid pipeline transition")

// advance moves the run to the next stage. Stages are strictly sequential
// and StateGenerated is final.
func (r *run) advance(to State) error {
	if to != r.res.State+1 || to > StateGenerated {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.res.State, to)
	}
	r.res.State = to
	return nil
}
