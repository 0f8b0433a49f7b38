package session

import "time"

// timerSlot is one cancellable scheduled task owned by the session loop.
// Every timed behavior (silence nudges, watchdog, filler escalation, the
// post-speech pause) runs through one of these so cleanup on a state
// transition is a single Stop call, never a scattered clear.
type timerSlot struct {
	timer  *time.Timer
	active bool
}

// C returns the firing channel, or nil while the slot is inactive so it
// never wins a select.
func (t *timerSlot) C() <-chan time.Time {
	if !t.active || t.timer == nil {
		return nil
	}
	return t.timer.C
}

// Reset schedules the task d from now, replacing any pending schedule.
func (t *timerSlot) Reset(d time.Duration) {
	if d < 0 {
		return
	}
	if t.timer == nil {
		t.timer = time.NewTimer(d)
		t.active = true
		return
	}
	if !t.timer.Stop() {
		select {
		case <-t.timer.C:
		default:
		}
	}
	t.timer.Reset(d)
	t.active = true
}

// Stop cancels the pending task, draining a fire that already happened.
func (t *timerSlot) Stop() {
	if t.timer == nil {
		return
	}
	if !t.timer.Stop() {
		select {
		case <-t.timer.C:
		default:
		}
	}
	t.active = false
}
