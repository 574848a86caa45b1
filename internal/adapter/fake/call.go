// Package fake holds in-memory stand-ins for the host, its container engine,
// and the wake and suspend transports.
package fake

import "sync"

// Call is one recorded method invocation.
type Call struct {
	Method string
	Args   []any
}

// CallRecorder is embedded by every fake so tests can assert on what was
// invoked and in which order.
type CallRecorder struct {
	mu    sync.Mutex
	calls []Call
}

func (r *CallRecorder) record(method string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, Call{Method: method, Args: args})
}

// Calls returns the recorded calls to method, or every call when method is "".
func (r *CallRecorder) Calls(method string) []Call {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Call, 0, len(r.calls))
	for _, c := range r.calls {
		if method == "" || c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

// Count is len(Calls(method)).
func (r *CallRecorder) Count(method string) int {
	return len(r.Calls(method))
}

// Methods returns the method names in call order.
func (r *CallRecorder) Methods() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, len(r.calls))
	for i, c := range r.calls {
		out[i] = c.Method
	}
	return out
}

func (r *CallRecorder) Reset() {
	r.mu.Lock()
	r.calls = nil
	r.mu.Unlock()
}
