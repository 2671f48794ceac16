package gates

import (
	"time"

	"fx-scalper-bot/internal/logging"
	"fx-scalper-bot/internal/market"
)

// Session is one tradable window, expressed in exchange-local wall
// clock so it tracks DST.
type Session struct {
	Name      string
	Location  string // IANA zone, e.g. "Europe/London"
	StartHour int
	StartMin  int
	EndHour   int
	EndMin    int
	QuoteOnly string // restrict to pairs carrying this currency; empty = all

	loc *time.Location
}

// DefaultSessions returns the standard scalping windows: London and New
// York mornings for all pairs, the Tokyo open for JPY pairs. Zones are
// resolved here so the sessions are safe to share across goroutines.
func DefaultSessions() []Session {
	sessions := []Session{
		{Name: "london", Location: "Europe/London", StartHour: 7, StartMin: 0, EndHour: 10, EndMin: 30},
		{Name: "newyork", Location: "America/New_York", StartHour: 8, StartMin: 30, EndHour: 11, EndMin: 0},
		{Name: "tokyo", Location: "Asia/Tokyo", StartHour: 9, StartMin: 0, EndHour: 11, EndMin: 0, QuoteOnly: "JPY"},
	}
	ResolveZones(sessions)
	return sessions
}

// ResolveZones loads each session's IANA zone up front. Sessions built
// outside DefaultSessions must pass through here before concurrent use;
// an unknown zone falls back to UTC with a warning rather than closing
// the session.
func ResolveZones(sessions []Session) {
	for i := range sessions {
		sessions[i].resolveZone()
	}
}

func (s *Session) resolveZone() {
	loc, err := time.LoadLocation(s.Location)
	if err != nil {
		logging.WithComponent("gates").Warn("unknown session zone, using UTC",
			"session", s.Name, "zone", s.Location)
		loc = time.UTC
	}
	s.loc = loc
}

// AppliesTo reports whether the session covers the instrument.
func (s *Session) AppliesTo(inst market.Instrument) bool {
	return s.QuoteOnly == "" || inst.HasCurrency(s.QuoteOnly)
}

// Contains reports whether now falls inside the session window in the
// session's local time. An unknown zone falls back to UTC with a
// warning rather than closing the session.
func (s *Session) Contains(now time.Time) bool {
	local := now.In(s.location())
	minutes := local.Hour()*60 + local.Minute()
	start := s.StartHour*60 + s.StartMin
	end := s.EndHour*60 + s.EndMin
	return minutes >= start && minutes < end
}

// OpenAt returns the session's opening time on now's local date. Used
// as the opening-range anchor for pattern detection.
func (s *Session) OpenAt(now time.Time) time.Time {
	local := now.In(s.location())
	return time.Date(local.Year(), local.Month(), local.Day(),
		s.StartHour, s.StartMin, 0, 0, s.location())
}

// location never writes: an unresolved session loads its zone per call
// so shared Sessions stay race-free.
func (s *Session) location() *time.Location {
	if s.loc != nil {
		return s.loc
	}
	loc, err := time.LoadLocation(s.Location)
	if err != nil {
		return time.UTC
	}
	return loc
}
