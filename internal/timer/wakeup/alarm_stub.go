//go:build !linux

package wakeup

import "time"

// Alarm requires the kernel interval timer and is linux-only.
type Alarm struct{}

func NewAlarm() (*Alarm, error) { return nil, ErrUnsupported }

func (a *Alarm) Arm(every time.Duration) {}
func (a *Alarm) Disarm()                 {}
func (a *Alarm) C() <-chan struct{}      { return nil }
func (a *Alarm) Close() error            { return nil }

// Default picks the best wake-up source for this platform.
func Default() Source { return NewTicker() }
