package state

import (
	"testing"
	"time"

	"github.com/joshuafuller/tinymdns/internal/protocol"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// run ticks p every step until until, recording the time of every action
// that is not ActionNone.
func run(p *Probe, start time.Time, until time.Duration, step time.Duration, first time.Duration) map[Action][]time.Duration {
	got := make(map[Action][]time.Duration)
	for at := time.Duration(0); at <= until; at += step {
		if a := p.Tick(start.Add(at), first); a != ActionNone {
			got[a] = append(got[a], at)
		}
	}
	return got
}

// TestProbe_Lifecycle tests the complete probe and announce cycle.
//
// RFC 6762 §8.1: exactly three probes, 250ms apart.
// RFC 6762 §8.3: announcements follow; here with delays 1s, 2s, 4s.
func TestProbe_Lifecycle(t *testing.T) {
	first := 100 * time.Millisecond
	p := &Probe{}
	p.MarkReady()
	if p.Status != ReadyToStart {
		t.Fatalf("Status after MarkReady = %v, want ReadyToStart", p.Status)
	}

	got := run(p, epoch, 20*time.Second, 10*time.Millisecond, first)

	wantProbes := []time.Duration{first, first + 250*time.Millisecond, first + 500*time.Millisecond}
	if !equalDurations(got[ActionSendProbe], wantProbes) {
		t.Errorf("probes at %v, want %v", got[ActionSendProbe], wantProbes)
	}

	done := first + 750*time.Millisecond
	if !equalDurations(got[ActionProbeSucceeded], []time.Duration{done}) {
		t.Errorf("probe success at %v, want %v", got[ActionProbeSucceeded], done)
	}

	wantAnnounces := []time.Duration{done + time.Second, done + 3*time.Second, done + 7*time.Second}
	if !equalDurations(got[ActionSendAnnounce], wantAnnounces) {
		t.Errorf("announces at %v, want %v", got[ActionSendAnnounce], wantAnnounces)
	}

	if p.Status != Done {
		t.Errorf("final Status = %v, want Done", p.Status)
	}
	if _, armed := p.Deadline(); armed {
		t.Error("deadline still armed after the third announce")
	}
}

// TestProbe_AnnounceBackoff checks the 1:2:4 ratio of announce delays.
func TestProbe_AnnounceBackoff(t *testing.T) {
	p := &Probe{Status: ReadyToStart}
	got := run(p, epoch, 20*time.Second, 5*time.Millisecond, 0)

	done := got[ActionProbeSucceeded]
	ann := got[ActionSendAnnounce]
	if len(done) != 1 || len(ann) != protocol.AnnounceCount {
		t.Fatalf("probe success %v, announces %v", done, ann)
	}

	d1 := ann[0] - done[0]
	d2 := ann[1] - ann[0]
	d3 := ann[2] - ann[1]
	if d2 != 2*d1 || d3 != 4*d1 {
		t.Errorf("announce delays %v, %v, %v are not 1:2:4", d1, d2, d3)
	}
}

func TestProbe_WaitingForDataDoesNothing(t *testing.T) {
	p := &Probe{}
	got := run(p, epoch, 5*time.Second, 50*time.Millisecond, 0)
	if len(got) != 0 {
		t.Errorf("actions while waiting for data: %v", got)
	}
	if p.Status != WaitingForData {
		t.Errorf("Status = %v, want WaitingForData", p.Status)
	}
}

// TestProbe_SendFailed checks that a failed step is repeated at the next
// deadline rather than counted.
func TestProbe_SendFailed(t *testing.T) {
	t.Run("probe", func(t *testing.T) {
		p := &Probe{Status: ReadyToStart}
		p.Tick(epoch, 0)
		if a := p.Tick(epoch, 0); a != ActionSendProbe {
			t.Fatalf("Tick() = %v, want SendProbe", a)
		}
		p.SendFailed(epoch)
		if p.SentCount != 0 {
			t.Fatalf("SentCount after failure = %d, want 0", p.SentCount)
		}

		// Not before the probe interval.
		if a := p.Tick(epoch.Add(100*time.Millisecond), 0); a != ActionNone {
			t.Errorf("Tick() before deadline = %v, want None", a)
		}
		if a := p.Tick(epoch.Add(protocol.ProbeDelay), 0); a != ActionSendProbe {
			t.Errorf("Tick() at deadline = %v, want SendProbe", a)
		}
		if p.SentCount != 1 {
			t.Errorf("SentCount = %d, want 1", p.SentCount)
		}
	})

	t.Run("announce", func(t *testing.T) {
		p := &Probe{Status: Done}
		p.Reannounce(epoch)
		if a := p.Tick(epoch, 0); a != ActionSendAnnounce {
			t.Fatalf("Tick() = %v, want SendAnnounce", a)
		}
		p.SendFailed(epoch)
		if p.SentCount != 0 {
			t.Fatalf("SentCount after failure = %d, want 0", p.SentCount)
		}
		deadline, armed := p.Deadline()
		if !armed || deadline.Sub(epoch) != protocol.AnnounceDelay {
			t.Errorf("retry deadline = %v (armed %v), want %v", deadline.Sub(epoch), armed, protocol.AnnounceDelay)
		}
	})

	t.Run("third announce", func(t *testing.T) {
		p := &Probe{Status: Done, SentCount: 2}
		p.arm(epoch, 0)
		if a := p.Tick(epoch, 0); a != ActionSendAnnounce {
			t.Fatalf("Tick() = %v, want SendAnnounce", a)
		}
		if _, armed := p.Deadline(); armed {
			t.Fatal("deadline armed after third announce")
		}
		p.SendFailed(epoch)
		if a := p.Tick(epoch.Add(4*time.Second), 0); a != ActionSendAnnounce {
			t.Errorf("retry Tick() = %v, want SendAnnounce", a)
		}
	})
}

func TestProbe_CancelAndRestart(t *testing.T) {
	p := &Probe{Status: ReadyToStart}
	p.Tick(epoch, 0)
	p.Tick(epoch, 0)
	p.TiebreakNeeded = true

	if !p.Probing() {
		t.Fatal("Probing() after first probe = false")
	}

	p.Cancel()
	if p.Status != WaitingForData || p.SentCount != 0 || p.TiebreakNeeded {
		t.Errorf("after Cancel: %+v", p)
	}
	if p.Probing() {
		t.Error("Probing() after Cancel = true")
	}

	p.Restart()
	if p.Status != ReadyToStart {
		t.Errorf("Status after Restart = %v, want ReadyToStart", p.Status)
	}
	if a := p.Tick(epoch, 0); a != ActionNone || p.Status != InProgress {
		t.Errorf("Tick() after Restart = %v, Status %v", a, p.Status)
	}
}

func TestProbe_Reannounce(t *testing.T) {
	p := &Probe{Status: InProgress}
	p.Reannounce(epoch)
	if _, armed := p.Deadline(); armed {
		t.Error("Reannounce armed a probe in progress")
	}

	p = &Probe{Status: Done, SentCount: protocol.AnnounceCount}
	p.Reannounce(epoch)
	got := run(p, epoch, 10*time.Second, 10*time.Millisecond, 0)
	if n := len(got[ActionSendAnnounce]); n != protocol.AnnounceCount {
		t.Errorf("announces after Reannounce = %d, want %d", n, protocol.AnnounceCount)
	}
}

func TestStatus_String(t *testing.T) {
	tests := []struct {
		s    Status
		want string
	}{
		{WaitingForData, "WaitingForData"},
		{ReadyToStart, "ReadyToStart"},
		{InProgress, "InProgress"},
		{Done, "Done"},
		{Status(42), "Unknown"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("Status(%d).String() = %q, want %q", int(tt.s), got, tt.want)
		}
	}
}

func equalDurations(a, b []time.Duration) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
