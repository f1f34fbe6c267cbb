// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"testing"
	"time"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFakeNowAdvances(t *testing.T) {
	c := Fake(epoch)
	c.Advance(3 * time.Second)
	if got := c.Now(); !got.Equal(epoch.Add(3 * time.Second)) {
		t.Fatalf("Now = %v, want %v", got, epoch.Add(3*time.Second))
	}
	if got := Since(c, epoch); got != 3*time.Second {
		t.Fatalf("Since = %v, want 3s", got)
	}
}

func TestFakeAfterFiresAtDeadline(t *testing.T) {
	c := Fake(epoch)
	channel := c.After(time.Second)

	c.Advance(999 * time.Millisecond)
	select {
	case <-channel:
		t.Fatal("After fired before its deadline")
	default:
	}

	c.Advance(time.Millisecond)
	select {
	case fired := <-channel:
		if !fired.Equal(epoch.Add(time.Second)) {
			t.Errorf("fired at %v, want %v", fired, epoch.Add(time.Second))
		}
	default:
		t.Fatal("After did not fire at its deadline")
	}
	if c.PendingCount() != 0 {
		t.Errorf("PendingCount = %d after one-shot fired, want 0", c.PendingCount())
	}
}

func TestFakeAfterNonPositive(t *testing.T) {
	c := Fake(epoch)
	select {
	case <-c.After(0):
	default:
		t.Fatal("After(0) was not immediately ready")
	}
}

func TestFakeSleepWaitsForAdvance(t *testing.T) {
	c := Fake(epoch)
	done := make(chan struct{})
	go func() {
		c.Sleep(100 * time.Millisecond)
		close(done)
	}()

	c.WaitForTimers(1)
	c.Advance(100 * time.Millisecond)
	select {
	case <-done:
	case <-time.After(5 * time.Second): //nolint:realclock test hang prevention
		t.Fatal("Sleep did not return after Advance")
	}
}

func TestFakeTickerRepeatsUntilStopped(t *testing.T) {
	c := Fake(epoch)
	ticker := c.NewTicker(time.Second)

	for i := 1; i <= 3; i++ {
		c.Advance(time.Second)
		select {
		case <-ticker.C:
		default:
			t.Fatalf("tick %d missing", i)
		}
	}

	ticker.Stop()
	c.Advance(time.Second)
	select {
	case <-ticker.C:
		t.Fatal("stopped ticker fired")
	default:
	}
	if c.PendingCount() != 0 {
		t.Errorf("PendingCount = %d after Stop, want 0", c.PendingCount())
	}
}
