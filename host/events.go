package host

// EventKind identifies what happened to an instance.
type EventKind string

const (
	EventOutput       EventKind = "output"
	EventRuntimeError EventKind = "runtime-error"
	EventHalted       EventKind = "halted"
)

// Event is delivered to subscribers after the operation that caused it
// completes.
type Event struct {
	Kind     EventKind
	Instance string
	Module   string
	Line     string // EventOutput
	Err      error  // EventRuntimeError, a *vm.RuntimeError
}

// Subscribe registers fn for every event and returns a function that
// removes it. fn runs on the goroutine that called the Host method
// producing the event and may call back into the Host.
func (h *Host) Subscribe(fn func(Event)) (cancel func()) {
	h.subMu.Lock()
	id := h.nextSub
	h.nextSub++
	h.subs[id] = fn
	h.subMu.Unlock()

	return func() {
		h.subMu.Lock()
		delete(h.subs, id)
		h.subMu.Unlock()
	}
}

// emit queues an event. Only called on the host goroutine.
func (h *Host) emit(e Event) {
	h.pending = append(h.pending, e)
}

func (h *Host) publish(events []Event) {
	if len(events) == 0 {
		return
	}
	h.subMu.RLock()
	fns := make([]func(Event), 0, len(h.subs))
	for _, fn := range h.subs {
		fns = append(fns, fn)
	}
	h.subMu.RUnlock()

	for _, e := range events {
		for _, fn := range fns {
			fn(e)
		}
	}
}
