package gates

import (
	"sync"
	"testing"
	"time"
)

func TestDefaultSessionsResolveZones(t *testing.T) {
	for _, s := range DefaultSessions() {
		if s.loc == nil {
			t.Errorf("session %s zone not resolved at construction", s.Name)
		}
	}
}

func TestSessionConcurrentContains(t *testing.T) {
	sessions := DefaultSessions()
	london := &sessions[0]

	// Winter Friday 09:00 UTC is inside the London window.
	inside := time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				if !london.Contains(inside) {
					t.Error("09:00 UTC winter should be inside london")
					return
				}
				if got := london.OpenAt(inside); got.UTC().Hour() != 7 {
					t.Errorf("OpenAt = %v, want 07:00 UTC", got.UTC())
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestUnknownZoneFallsBackToUTC(t *testing.T) {
	sessions := []Session{{Name: "bad", Location: "Mars/Olympus", StartHour: 9, EndHour: 11}}
	ResolveZones(sessions)
	if sessions[0].loc != time.UTC {
		t.Errorf("unknown zone resolved to %v, want UTC", sessions[0].loc)
	}
	if !sessions[0].Contains(time.Date(2025, 1, 10, 10, 0, 0, 0, time.UTC)) {
		t.Error("10:00 UTC should be inside the fallback window")
	}
}
