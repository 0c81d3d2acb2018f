package timeutil

import (
	"testing"
	"time"
)

func TestRealClockNow(t *testing.T) {
	t.Parallel()

	c := RealClock{}
	before := time.Now()
	got := c.Now()
	after := time.Now()

	if got.Before(before) || got.After(after) {
		t.Errorf("Now() = %v, want between %v and %v", got, before, after)
	}
}

func TestRealClockTicker(t *testing.T) {
	t.Parallel()

	c := RealClock{}
	ticker := c.NewTicker(time.Millisecond)
	defer ticker.Stop()

	select {
	case <-ticker.C():
	case <-time.After(time.Second):
		t.Fatal("ticker did not tick")
	}
}

func TestMockClockSetAndAdvance(t *testing.T) {
	t.Parallel()

	start := time.Unix(1700000000, 0)
	c := NewMockClock(start)

	if got := c.Now(); !got.Equal(start) {
		t.Errorf("Now() = %v, want %v", got, start)
	}

	c.Advance(5 * time.Second)
	if got := c.Since(start); got != 5*time.Second {
		t.Errorf("Since(start) = %v, want 5s", got)
	}

	later := start.Add(time.Hour)
	c.Set(later)
	if got := c.Now(); !got.Equal(later) {
		t.Errorf("Now() after Set = %v, want %v", got, later)
	}
}

func TestMockClockSleepRecords(t *testing.T) {
	t.Parallel()

	c := NewMockClock(time.Unix(0, 0))
	c.Sleep(time.Second)
	c.Sleep(2 * time.Second)

	sleeps := c.Sleeps()
	if len(sleeps) != 2 || sleeps[0] != time.Second || sleeps[1] != 2*time.Second {
		t.Errorf("Sleeps() = %v, want [1s 2s]", sleeps)
	}
}

func TestMockTimerFiresOnAdvance(t *testing.T) {
	t.Parallel()

	c := NewMockClock(time.Unix(0, 0))
	timer := c.NewTimer(10 * time.Second)

	c.Advance(5 * time.Second)
	select {
	case <-timer.C():
		t.Fatal("timer fired early")
	default:
	}

	c.Advance(5 * time.Second)
	select {
	case <-timer.C():
	default:
		t.Fatal("timer did not fire at deadline")
	}
}

func TestMockTimerStop(t *testing.T) {
	t.Parallel()

	c := NewMockClock(time.Unix(0, 0))
	timer := c.NewTimer(time.Second)

	if !timer.Stop() {
		t.Error("Stop() on active timer should return true")
	}

	c.Advance(2 * time.Second)
	select {
	case <-timer.C():
		t.Fatal("stopped timer fired")
	default:
	}
}

func TestMockTickerFiresRepeatedly(t *testing.T) {
	t.Parallel()

	c := NewMockClock(time.Unix(0, 0))
	ticker := c.NewTicker(time.Second)
	defer ticker.Stop()

	for i := 0; i < 3; i++ {
		c.Advance(time.Second)
		select {
		case <-ticker.C():
		default:
			t.Fatalf("tick %d not delivered", i)
		}
	}

	ticker.Stop()
	c.Advance(time.Second)
	select {
	case <-ticker.C():
		t.Fatal("stopped ticker fired")
	default:
	}
}

func TestMockTickerTrigger(t *testing.T) {
	t.Parallel()

	c := NewMockClock(time.Unix(0, 0))
	ticker := c.NewTicker(time.Hour).(*MockTicker)
	defer ticker.Stop()

	now := time.Unix(42, 0)
	ticker.Trigger(now)

	select {
	case got := <-ticker.C():
		if !got.Equal(now) {
			t.Errorf("tick time = %v, want %v", got, now)
		}
	default:
		t.Fatal("Trigger did not deliver a tick")
	}
}
