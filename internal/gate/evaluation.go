package gate

import (
	"context"
	"sync"

	"github.com/cespare/xxhash/v2"
)

type evaluationKey struct{}

// evaluation is the per-request state: the first verdict and the block events
// already recorded while producing it.
type evaluation struct {
	once    sync.Once
	verdict Verdict

	mu       sync.Mutex
	recorded map[uint64]struct{}
}

// WithEvaluation attaches request-scoped evaluation state to ctx. Every Admit
// call made with the returned context (or one derived from it) after the first
// returns the first verdict without touching storage. Calling WithEvaluation on
// a context that already carries state returns ctx unchanged.
func WithEvaluation(ctx context.Context) context.Context {
	if evaluationFrom(ctx) != nil {
		return ctx
	}
	return context.WithValue(ctx, evaluationKey{}, &evaluation{recorded: make(map[uint64]struct{})})
}

func evaluationFrom(ctx context.Context) *evaluation {
	ev, _ := ctx.Value(evaluationKey{}).(*evaluation)
	return ev
}

// markRecorded reports whether (address, target) had not been recorded yet in
// this request, and marks it.
func (e *evaluation) markRecorded(address, target string) bool {
	key := xxhash.Sum64String(address + "|" + target)

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, seen := e.recorded[key]; seen {
		return false
	}
	e.recorded[key] = struct{}{}
	return true
}
