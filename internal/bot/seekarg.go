package bot

import (
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sho0pi/naturaltime"
)

// DefaultStep is how far forward and rewind move without an argument.
const DefaultStep = 10 * time.Second

var ErrBadSeek = errors.New("could not parse seek position")

// SeekArg is a parsed seek target. Relative targets move from the current
// position, absolute ones jump to Offset.
type SeekArg struct {
	Offset   time.Duration
	Relative bool
}

var (
	seekParserOnce sync.Once
	seekParser     *naturaltime.Parser
)

func naturalParser() *naturaltime.Parser {
	seekParserOnce.Do(func() {
		p, err := naturaltime.New()
		if err == nil {
			seekParser = p
		}
	})
	return seekParser
}

// ParseSeek understands "1:30" and "90" as absolute positions, "+30s", "-10"
// and "+1:00" as relative moves, and plain durations like "1m30s" as absolute.
// Anything else goes through natural language parsing ("in 2 minutes") and
// is treated as a relative move.
func ParseSeek(input string) (SeekArg, error) {
	s := strings.TrimSpace(strings.ToLower(input))
	if s == "" {
		return SeekArg{}, ErrBadSeek
	}

	if s[0] == '+' || s[0] == '-' {
		parse := parseAmount
		if strings.Contains(s, ":") {
			parse = parseClock
		}
		d, err := parse(s[1:])
		if err != nil {
			return SeekArg{}, ErrBadSeek
		}
		if s[0] == '-' {
			d = -d
		}
		return SeekArg{Offset: d, Relative: true}, nil
	}

	if strings.Contains(s, ":") {
		d, err := parseClock(s)
		if err != nil {
			return SeekArg{}, ErrBadSeek
		}
		return SeekArg{Offset: d}, nil
	}

	if d, err := parseAmount(s); err == nil {
		return SeekArg{Offset: d}, nil
	}

	if p := naturalParser(); p != nil {
		now := time.Now()
		result, err := p.ParseDate(s, now)
		if err == nil && result != nil {
			return SeekArg{Offset: result.Sub(now).Round(time.Second), Relative: true}, nil
		}
	}
	return SeekArg{}, ErrBadSeek
}

// ParseStep parses the optional argument of forward and rewind.
func ParseStep(args []string) (time.Duration, error) {
	if len(args) == 0 {
		return DefaultStep, nil
	}
	d, err := parseAmount(strings.TrimSpace(args[0]))
	if err != nil || d == 0 {
		return 0, ErrBadSeek
	}
	return d, nil
}

// parseAmount reads whole seconds or a Go duration.
func parseAmount(s string) (time.Duration, error) {
	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 {
			return 0, ErrBadSeek
		}
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return 0, ErrBadSeek
	}
	return d, nil
}

// parseClock reads m:ss or h:mm:ss.
func parseClock(s string) (time.Duration, error) {
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, ErrBadSeek
	}
	var total int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || (i > 0 && n >= 60) {
			return 0, ErrBadSeek
		}
		total = total*60 + n
	}
	return time.Duration(total) * time.Second, nil
}
