package offlinecache

// Pending is the completion signal of work a strategy continues after it has
// returned its response: cache writes, trims and revalidations.
// A nil *Pending is already settled.
type Pending struct {
	done chan struct{}
	err  error
}

// goPending runs fn in a new goroutine and returns its completion signal.
func goPending(fn func() error) *Pending {
	p := &Pending{done: make(chan struct{})}
	go func() {
		defer close(p.done)
		p.err = fn()
	}()
	return p
}

// settled returns a signal that has already completed with err.
func settled(err error) *Pending {
	p := &Pending{done: make(chan struct{}), err: err}
	close(p.done)
	return p
}

// Done is closed when the work has finished.
func (p *Pending) Done() <-chan struct{} {
	if p == nil {
		return closed
	}
	return p.done
}

// Wait blocks until the work has finished and returns its error.
func (p *Pending) Wait() error {
	if p == nil {
		return nil
	}
	<-p.done
	return p.err
}

var closed = func() chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}()
