package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeCommander records scan commands and can be told to fail them.
type fakeCommander struct {
	mu         sync.Mutex
	startCalls int
	stopCalls  int
	failStart  bool
	failStop   bool
}

func (f *fakeCommander) StartScan(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startCalls++
	if f.failStart {
		return errors.New("start rejected")
	}
	return nil
}

func (f *fakeCommander) StopScan(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopCalls++
	if f.failStop {
		return errors.New("stop rejected")
	}
	return nil
}

func (f *fakeCommander) calls() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.startCalls, f.stopCalls
}

func waitForElapsed(t *testing.T, c *Controller, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.Status().ElapsedSeconds == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("elapsedSeconds = %d, want %d", c.Status().ElapsedSeconds, want)
}

func TestControllerStart(t *testing.T) {
	cmd := &fakeCommander{}
	c := NewController(cmd, NewFakeClock(time.Unix(0, 0)), nil)
	t.Cleanup(c.Close)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	status := c.Status()
	if !status.Scanning {
		t.Error("session not scanning after successful start")
	}
	if status.ElapsedSeconds != 0 {
		t.Errorf("elapsedSeconds = %d, want 0 at session start", status.ElapsedSeconds)
	}
	if starts, _ := cmd.calls(); starts != 1 {
		t.Errorf("start commands = %d, want 1", starts)
	}
}

func TestControllerStartWhileScanning(t *testing.T) {
	cmd := &fakeCommander{}
	c := NewController(cmd, NewFakeClock(time.Unix(0, 0)), nil)
	t.Cleanup(c.Close)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("first Start returned error: %v", err)
	}
	if err := c.Start(context.Background()); !errors.Is(err, ErrAlreadyScanning) {
		t.Errorf("second Start error = %v, want ErrAlreadyScanning", err)
	}
	if starts, _ := cmd.calls(); starts != 1 {
		t.Errorf("start commands = %d, want 1 (no command for rejected start)", starts)
	}
}

func TestControllerStartCommandFails(t *testing.T) {
	cmd := &fakeCommander{failStart: true}
	c := NewController(cmd, NewFakeClock(time.Unix(0, 0)), nil)

	if err := c.Start(context.Background()); err == nil {
		t.Fatal("Start returned nil error for rejected command")
	}
	if c.IsScanning() {
		t.Error("session scanning after failed start, must stay idle")
	}
}

func TestControllerElapsedTicks(t *testing.T) {
	cmd := &fakeCommander{}
	clock := NewFakeClock(time.Unix(0, 0))
	c := NewController(cmd, clock, nil)
	t.Cleanup(c.Close)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	for i := 1; i <= 3; i++ {
		clock.Advance(time.Second)
		waitForElapsed(t, c, i)
	}

	// Ticks publish updates for the feed.
	select {
	case status := <-c.Updates():
		if !status.Scanning {
			t.Errorf("update = %+v, want scanning", status)
		}
	case <-time.After(time.Second):
		t.Fatal("no status update published")
	}
}

func TestControllerStopResetsElapsed(t *testing.T) {
	cmd := &fakeCommander{}
	clock := NewFakeClock(time.Unix(0, 0))
	c := NewController(cmd, clock, nil)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	clock.Advance(time.Second)
	waitForElapsed(t, c, 1)

	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}

	status := c.Status()
	if status.Scanning {
		t.Error("session still scanning after stop")
	}
	if status.ElapsedSeconds != 0 {
		t.Errorf("elapsedSeconds = %d, want 0 after stop", status.ElapsedSeconds)
	}
	if _, stops := cmd.calls(); stops != 1 {
		t.Errorf("stop commands = %d, want 1", stops)
	}

	// The ticker is gone: further time must not move the counter.
	clock.Advance(time.Second)
	clock.Advance(time.Second)
	time.Sleep(50 * time.Millisecond)
	if got := c.Status().ElapsedSeconds; got != 0 {
		t.Errorf("elapsedSeconds = %d after stop, ticker leaked", got)
	}
}

func TestControllerStopWhileIdle(t *testing.T) {
	cmd := &fakeCommander{}
	c := NewController(cmd, NewFakeClock(time.Unix(0, 0)), nil)

	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("Stop on idle session returned error: %v", err)
	}
	if _, stops := cmd.calls(); stops != 0 {
		t.Errorf("stop commands = %d, want 0 for idle session", stops)
	}
}

func TestControllerStopCommandFails(t *testing.T) {
	cmd := &fakeCommander{}
	clock := NewFakeClock(time.Unix(0, 0))
	c := NewController(cmd, clock, nil)
	t.Cleanup(c.Close)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	clock.Advance(time.Second)
	waitForElapsed(t, c, 1)

	cmd.mu.Lock()
	cmd.failStop = true
	cmd.mu.Unlock()

	if err := c.Stop(context.Background()); err == nil {
		t.Fatal("Stop returned nil error for failed command")
	}

	// The reader may still be scanning, so local state must not flip.
	status := c.Status()
	if !status.Scanning {
		t.Error("session flipped to idle although stop command failed")
	}
	if status.ElapsedSeconds != 1 {
		t.Errorf("elapsedSeconds = %d, want 1 (unchanged)", status.ElapsedSeconds)
	}

	cmd.mu.Lock()
	cmd.failStop = false
	cmd.mu.Unlock()
}

func TestControllerCloseTearsDown(t *testing.T) {
	cmd := &fakeCommander{}
	clock := NewFakeClock(time.Unix(0, 0))
	c := NewController(cmd, clock, nil)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	clock.Advance(time.Second)
	waitForElapsed(t, c, 1)

	c.Close()

	status := c.Status()
	if status.Scanning || status.ElapsedSeconds != 0 {
		t.Errorf("status after Close = %+v, want idle and reset", status)
	}
	if _, stops := cmd.calls(); stops != 1 {
		t.Errorf("stop commands = %d, want 1 (best-effort stop on close)", stops)
	}

	// Close on an idle controller is a no-op.
	c.Close()
	if _, stops := cmd.calls(); stops != 1 {
		t.Error("second Close issued another stop command")
	}
}
