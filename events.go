package workbench

// Events returns a channel that receives every mutation event. Events are
// dropped when the channel is full.
func (w *Workbench) Events() <-chan Event {
	ch := make(chan Event, 100)
	w.mu.Lock()
	w.eventSubs = append(w.eventSubs, ch)
	w.mu.Unlock()
	return ch
}

// Unsubscribe removes a channel created by Events and closes it.
func (w *Workbench) Unsubscribe(ch <-chan Event) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i, sub := range w.eventSubs {
		if sub == ch {
			w.eventSubs = append(w.eventSubs[:i], w.eventSubs[i+1:]...)
			close(sub)
			return
		}
	}
}

func (w *Workbench) emit(e Event) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	for _, ch := range w.eventSubs {
		select {
		case ch <- e:
		default:
			// Drop if full
		}
	}
}

// subscribe feeds fn from its own channel until the workbench closes.
func (w *Workbench) subscribe(fn func(Event)) {
	ch := w.Events()
	go func() {
		for e := range ch {
			fn(e)
		}
	}()
}

func (w *Workbench) closeEvents() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, ch := range w.eventSubs {
		close(ch)
	}
	w.eventSubs = nil
}
