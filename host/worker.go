package host

import "fmt"

// request is a unit of work executed on the host goroutine.
type request struct {
	fn   func() (any, error)
	done chan result
}

// result carries a request's return value and the events it produced.
type result struct {
	value  any
	err    error
	events []Event
}

// loop processes requests sequentially. VMs are single-threaded, so
// every access to an instance goes through here.
func (h *Host) loop() {
	for {
		select {
		case req := <-h.requests:
			req.done <- h.execute(req.fn)
		case <-h.quit:
			return
		}
	}
}

// execute runs fn, recovering from panics, and collects queued events.
func (h *Host) execute(fn func() (any, error)) result {
	var res result
	func() {
		defer func() {
			if r := recover(); r != nil {
				res.err = fmt.Errorf("%v", r)
			}
		}()
		res.value, res.err = fn()
	}()
	res.events, h.pending = h.pending, nil
	return res
}

// do submits fn to the host goroutine, waits for it and then delivers
// the events it produced to subscribers on the calling goroutine.
func (h *Host) do(fn func() (any, error)) (any, error) {
	req := request{fn: fn, done: make(chan result, 1)}
	select {
	case h.requests <- req:
	case <-h.quit:
		return nil, ErrClosed
	}
	res := <-req.done
	h.publish(res.events)
	return res.value, res.err
}
