package reconstruct

import (
	"context"
	"fmt"

	"github.com/banshee-data/roomscan/internal/geometry"
	"github.com/banshee-data/roomscan/internal/monitoring"
)

// State records how far reconstruction got.
type State int

const (
	NotAttempted State = iota
	PoissonSucceeded
	PoissonFailed
	BallPivotingSucceeded
	BothFailed
)

func (s State) String() string {
	switch s {
	case NotAttempted:
		return "not_attempted"
	case PoissonSucceeded:
		return "poisson_succeeded"
	case PoissonFailed:
		return "poisson_failed"
	case BallPivotingSucceeded:
		return "ball_pivoting_succeeded"
	case BothFailed:
		return "both_failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	return s == PoissonSucceeded || s == BallPivotingSucceeded || s == BothFailed
}

// Strategy is one surface reconstruction algorithm.
type Strategy interface {
	Name() string
	Reconstruct(ctx context.Context, pc *geometry.PointCloud) (*geometry.Mesh, error)
}

// Outcome is the result of Reconstructor.Reconstruct.
type Outcome struct {
	Mesh         *geometry.Mesh
	State        State
	PoissonErr   error
	BallPivotErr error
}

// Reconstructor runs Poisson and falls back to ball pivoting when Poisson
// fails. With Speculative set both run concurrently, the first success wins
// and the other attempt is cancelled through its context.
type Reconstructor struct {
	Poisson     Strategy
	BallPivot   Strategy
	Speculative bool
}

// NewReconstructor returns a sequential Reconstructor built from the given
// parameters.
func NewReconstructor(pp PoissonParams, bp BallPivotParams) *Reconstructor {
	return &Reconstructor{
		Poisson:   NewPoisson(pp),
		BallPivot: NewBallPivot(bp),
	}
}

// Reconstruct produces a mesh from pc. When both strategies fail the error
// wraps geometry.ErrReconstructionFailed and the returned Outcome still
// carries both causes.
func (r *Reconstructor) Reconstruct(ctx context.Context, pc *geometry.PointCloud) (*Outcome, error) {
	if pc.Len() == 0 {
		return &Outcome{State: NotAttempted}, fmt.Errorf("reconstruct: %w", geometry.ErrEmptyInput)
	}
	if r.Speculative {
		return r.speculative(ctx, pc)
	}
	return r.sequential(ctx, pc)
}

func (r *Reconstructor) sequential(ctx context.Context, pc *geometry.PointCloud) (*Outcome, error) {
	log := monitoring.Stage("reconstruct")
	out := &Outcome{State: NotAttempted}

	mesh, err := r.Poisson.Reconstruct(ctx, pc)
	if err == nil {
		out.Mesh, out.State = mesh, PoissonSucceeded
		return out, nil
	}
	out.State, out.PoissonErr = PoissonFailed, err
	if ctxErr := ctx.Err(); ctxErr != nil {
		return out, ctxErr
	}
	log.Warnf("%s failed, falling back to %s: %v", r.Poisson.Name(), r.BallPivot.Name(), err)

	mesh, err = r.BallPivot.Reconstruct(ctx, pc)
	if err == nil {
		out.Mesh, out.State = mesh, BallPivotingSucceeded
		return out, nil
	}
	out.State, out.BallPivotErr = BothFailed, err
	if ctxErr := ctx.Err(); ctxErr != nil {
		return out, ctxErr
	}
	return out, bothFailed(out)
}

type attempt struct {
	poisson bool
	mesh    *geometry.Mesh
	err     error
}

func (r *Reconstructor) speculative(parent context.Context, pc *geometry.PointCloud) (*Outcome, error) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	results := make(chan attempt, 2)
	go func() {
		m, err := r.Poisson.Reconstruct(ctx, pc)
		results <- attempt{poisson: true, mesh: m, err: err}
	}()
	go func() {
		m, err := r.BallPivot.Reconstruct(ctx, pc)
		results <- attempt{mesh: m, err: err}
	}()

	out := &Outcome{State: NotAttempted}
	for received := 0; received < 2; received++ {
		a := <-results
		if a.err == nil {
			out.Mesh, out.State = a.mesh, BallPivotingSucceeded
			if a.poisson {
				out.State = PoissonSucceeded
			}
			cancel()
			if received == 0 {
				<-results
			}
			return out, nil
		}
		if a.poisson {
			out.PoissonErr = a.err
		} else {
			out.BallPivotErr = a.err
		}
	}

	out.State = BothFailed
	if err := parent.Err(); err != nil {
		return out, err
	}
	return out, bothFailed(out)
}

func bothFailed(out *Outcome) error {
	return fmt.Errorf("%w: poisson: %v; ball pivoting: %v",
		geometry.ErrReconstructionFailed, out.PoissonErr, out.BallPivotErr)
}
