package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ChuLiYu/ledger-scheduler/pkg/types"
)

// Call is one request received by a Simulated ledger.
type Call struct {
	Method string
	JobID  types.JobID
	Arg    string
}

// Simulated is an in-process ledger. Every call confirms after Latency
// unless a failure hook says otherwise. It backs ledger.mode=simulated and
// the tests.
type Simulated struct {
	// Latency is how long each call takes to "confirm".
	Latency time.Duration

	mu    sync.Mutex
	calls []Call
	fail  map[string]func(Call) error
	gates map[string]chan struct{}
}

// NewSimulated returns a simulated ledger with the given latency.
func NewSimulated(latency time.Duration) *Simulated {
	return &Simulated{
		Latency: latency,
		fail:    make(map[string]func(Call) error),
		gates:   make(map[string]chan struct{}),
	}
}

// FailWith makes every call to method return whatever fn returns.
// A nil fn clears the hook.
func (s *Simulated) FailWith(method string, fn func(Call) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fn == nil {
		delete(s.fail, method)
		return
	}
	s.fail[method] = fn
}

// FailTimes makes the next n calls to method fail with ErrConfirm.
func (s *Simulated) FailTimes(method string, n int) {
	remaining := n
	var mu sync.Mutex
	s.FailWith(method, func(c Call) error {
		mu.Lock()
		defer mu.Unlock()
		if remaining <= 0 {
			return nil
		}
		remaining--
		return fmt.Errorf("%w: simulated %s failure for %s", ErrConfirm, c.Method, c.JobID)
	})
}

// Hold blocks calls to method until the returned function is called.
func (s *Simulated) Hold(method string) (release func()) {
	gate := make(chan struct{})
	s.mu.Lock()
	s.gates[method] = gate
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			if s.gates[method] == gate {
				delete(s.gates, method)
			}
			s.mu.Unlock()
			close(gate)
		})
	}
}

// Calls returns every call received so far, in order.
func (s *Simulated) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// CallsTo returns the calls received for method.
func (s *Simulated) CallsTo(method string) []Call {
	var out []Call
	for _, c := range s.Calls() {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

func (s *Simulated) Assign(ctx context.Context, jobID types.JobID, provider string) error {
	if !ValidAddress(provider) {
		return fmt.Errorf("%w: invalid provider address %q", ErrSubmit, provider)
	}
	return s.call(ctx, Call{Method: MethodAssign, JobID: jobID, Arg: provider})
}

func (s *Simulated) SubmitResult(ctx context.Context, jobID types.JobID, resultHash string) error {
	if _, err := ParseResultHash(resultHash); err != nil {
		return err
	}
	return s.call(ctx, Call{Method: MethodSubmitResult, JobID: jobID, Arg: resultHash})
}

func (s *Simulated) Release(ctx context.Context, jobID types.JobID) error {
	return s.call(ctx, Call{Method: MethodRelease, JobID: jobID})
}

func (s *Simulated) call(ctx context.Context, c Call) error {
	s.mu.Lock()
	s.calls = append(s.calls, c)
	gate := s.gates[c.Method]
	hook := s.fail[c.Method]
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return fmt.Errorf("%w: %s: %v", ErrConfirm, c.Method, ctx.Err())
		}
	}

	if s.Latency > 0 {
		timer := time.NewTimer(s.Latency)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return fmt.Errorf("%w: %s: %v", ErrConfirm, c.Method, ctx.Err())
		}
	}

	if hook != nil {
		return hook(c)
	}
	return nil
}
