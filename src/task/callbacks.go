package task

// ResultCallback bridges a task callback into a channel so callers can
// wait for the outcome synchronously. Sends never block: a task that
// somehow reports twice only delivers the first outcome.
type ResultCallback struct {
	ch chan interface{}
}

// NewResultCallback creates a callback with room for a single outcome.
func NewResultCallback() *ResultCallback {
	return &ResultCallback{ch: make(chan interface{}, 1)}
}

// Result returns the channel carrying the task outcome.
// The value is either the task result or an error.
func (cb *ResultCallback) Result() <-chan interface{} {
	return cb.ch
}

func (cb *ResultCallback) OnComplete(result interface{}) {
	select {
	case cb.ch <- result:
	default:
	}
}

func (cb *ResultCallback) OnError(err error) {
	select {
	case cb.ch <- err:
	default:
	}
}
