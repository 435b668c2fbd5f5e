package scheduler

import "sync"

// Events is an Emitter fed by Emit. Jobs emitted before a subscriber attaches are
// buffered and delivered on Subscribe.
type Events struct {
	mutex   sync.Mutex
	emit    func(jobs ...Job)
	pending []Job
}

func NewEvents() *Events {
	return &Events{}
}

func (e *Events) Emit(jobs ...Job) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if e.emit == nil {
		e.pending = append(e.pending, jobs...)
		return
	}
	e.emit(jobs...)
}

func (e *Events) Subscribe(emit func(jobs ...Job)) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	e.emit = emit
	if len(e.pending) > 0 {
		pending := e.pending
		e.pending = nil
		emit(pending...)
	}
}
