package classify

import (
	"fmt"
	"time"
)

// Band is a daily wall-clock interval [Start, End). A band whose start is
// after its end wraps past midnight.
type Band struct {
	Start int // minutes after midnight
	End   int
}

// ParseBand parses two "HH:MM" strings.
func ParseBand(start, end string) (*Band, error) {
	s, err := parseClock(start)
	if err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}
	e, err := parseClock(end)
	if err != nil {
		return nil, fmt.Errorf("end: %w", err)
	}
	if s == e {
		return nil, fmt.Errorf("empty band %s-%s", start, end)
	}
	return &Band{Start: s, End: e}, nil
}

func parseClock(v string) (int, error) {
	t, err := time.Parse("15:04", v)
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q", v)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// Contains reports whether t's wall-clock time falls inside the band.
func (b Band) Contains(t time.Time) bool {
	m := t.Hour()*60 + t.Minute()
	if b.Start < b.End {
		return m >= b.Start && m < b.End
	}
	return m >= b.Start || m < b.End
}

func (b Band) String() string {
	return fmt.Sprintf("%02d:%02d-%02d:%02d", b.Start/60, b.Start%60, b.End/60, b.End%60)
}
