package treewire

import (
	"sync"
	"time"
)

// backoffState is shared between stream reconnects and one-shot requests.
// interval paces stream reconnects after transient failures; deadline and
// escalation lock out one-shot requests after overload responses. Any
// successful response of either kind resets the whole state.
type backoffState struct {
	defaultInterval time.Duration
	maxInterval     time.Duration

	mutex      sync.Mutex
	interval   time.Duration
	deadline   time.Time
	escalation int
}

func newBackoffState(defaultInterval time.Duration, maxInterval time.Duration) *backoffState {
	return &backoffState{
		defaultInterval: defaultInterval,
		maxInterval:     maxInterval,
		interval:        defaultInterval,
		escalation:      1,
	}
}

// reset returns the state to defaults. Called on any successful response,
// streaming chunk or one-shot.
func (self *backoffState) reset() {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	self.interval = self.defaultInterval
	self.deadline = time.Time{}
	self.escalation = 1
}

// nextInterval returns the current reconnect wait and doubles it for the
// next consecutive transient failure, up to the cap.
func (self *backoffState) nextInterval() time.Duration {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	interval := self.interval
	self.interval = 2 * self.interval
	if self.maxInterval < self.interval {
		self.interval = self.maxInterval
	}
	return interval
}

// overload extends the request lockout deadline by the default interval
// times the escalation counter, and escalates. Returns the new deadline.
func (self *backoffState) overload() time.Time {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	self.deadline = time.Now().Add(time.Duration(self.escalation) * self.defaultInterval)
	self.escalation += 1
	return self.deadline
}

// clearOverload resets the lockout without touching the stream interval.
// Called on any non-overload response that is not a success.
func (self *backoffState) clearOverload() {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	self.deadline = time.Time{}
	self.escalation = 1
}

// limited reports whether one-shot requests are currently locked out.
func (self *backoffState) limited() (time.Time, bool) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	if self.deadline.IsZero() || !time.Now().Before(self.deadline) {
		return time.Time{}, false
	}
	return self.deadline, true
}
