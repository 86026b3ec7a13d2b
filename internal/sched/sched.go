// Package sched computes how long the device should sleep between wakes.
package sched

import "time"

// Window is the overnight quiet window, expressed as minutes since midnight.
// Start is in the evening, Wake the following morning, so the window wraps
// midnight (e.g. 22:30 to 06:30).
type Window struct {
	Start int
	Wake  int
}

// InNight reports whether now falls inside the quiet window.
func (w Window) InNight(now time.Time) bool {
	start := clockToday(now, w.Start)
	wake := clockToday(now, w.Wake)
	return !now.Before(start) || now.Before(wake)
}

// SleepMinutes returns how many minutes the device should sleep from now.
// Outside the quiet window it sleeps the regular interval. Inside it, it
// sleeps until one minute past the wake time, so the first daytime check-in
// lands just after the window closes.
func (w Window) SleepMinutes(now time.Time, intervalMinutes int) int {
	if !w.InNight(now) {
		return intervalMinutes
	}
	wake := clockToday(now, w.Wake)
	if now.After(wake) {
		wake = wake.AddDate(0, 0, 1)
	}
	return int(wake.Sub(now).Minutes()) + 1
}

// WakeTime returns the instant the device is scheduled to wake if it goes to
// sleep at now. Used for logging and the status surface.
func (w Window) WakeTime(now time.Time, intervalMinutes int) time.Time {
	return now.Add(time.Duration(w.SleepMinutes(now, intervalMinutes)) * time.Minute)
}

func clockToday(now time.Time, minutes int) time.Time {
	return time.Date(now.Year(), now.Month(), now.Day(), minutes/60, minutes%60, 0, 0, now.Location())
}
