package upload

// EventKind distinguishes job lifecycle events.
type EventKind string

const (
	// EventProgress is emitted after every acknowledged chunk.
	EventProgress EventKind = "progress"
	// EventCompleted is emitted once when a job reaches Completed.
	EventCompleted EventKind = "completed"
	// EventFailed is emitted once when a job reaches Failed.
	EventFailed EventKind = "failed"
)

// Event carries a job snapshot taken at emission time.
type Event struct {
	Kind EventKind
	Job  Status
}

// subscriber channels are buffered; a consumer that falls this far behind
// starts losing the oldest events (the terminal event is always the newest,
// so it still gets through).
const subscriberBuffer = 128

// Subscribe registers interest in one job's events. It returns a receive
// channel and an unsubscribe function. The channel is closed after the job's
// terminal event has been delivered or when unsubscribe is called.
//
// Subscribing to an unknown or already-terminal job yields a channel that
// only ever closes; callers are expected to consult Status alongside.
func (m *Manager) Subscribe(jobID string) (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok || job.status.State.Terminal() {
		close(ch)
		return ch, func() {}
	}

	m.subs[jobID] = append(m.subs[jobID], ch)

	unsubscribe := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		chans := m.subs[jobID]
		for i, c := range chans {
			if c == ch {
				m.subs[jobID] = append(chans[:i], chans[i+1:]...)
				close(c)
				return
			}
		}
	}
	return ch, unsubscribe
}

// publishLocked fans an event out to the job's subscribers. Callers must hold
// m.mu. Sends never block: when a buffer is full, the oldest event is dropped
// to make room.
func (m *Manager) publishLocked(jobID string, ev Event) {
	for _, ch := range m.subs[jobID] {
		select {
		case ch <- ev:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- ev:
			default:
			}
		}
	}
}

// closeSubsLocked closes and forgets all subscriber channels of a job.
// Called after the terminal event has been queued. Callers must hold m.mu.
func (m *Manager) closeSubsLocked(jobID string) {
	for _, ch := range m.subs[jobID] {
		close(ch)
	}
	delete(m.subs, jobID)
}
