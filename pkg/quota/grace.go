package quota

import (
	"fmt"
	"regexp"
	"strconv"
)

// GraceStatus is the canonical form of a grace-period string. Remaining is
// only set while a grace period is ticking or has run out; "none" leaves it
// nil.
type GraceStatus struct {
	Expired   bool    `json:"expired"`
	Remaining *uint64 `json:"remaining,omitempty"`
}

// GraceFormatError signals a grace string outside the recognized grammar. The
// decoder never guesses: silently treating unknown grace text as "not
// expired" would suppress real notifications.
type GraceFormatError struct {
	Raw string
}

func (e *GraceFormatError) Error() string {
	return fmt.Sprintf("unknown grace string %q", e.Raw)
}

var (
	graceDaysRegex    = regexp.MustCompile(`(\d+)\s*days?`)
	graceHoursRegex   = regexp.MustCompile(`(\d+)\s*hours?`)
	graceMinutesRegex = regexp.MustCompile(`(\d+)\s*minutes?`)
	graceExpiredRegex = regexp.MustCompile(`expired`)
	graceNoneRegex    = regexp.MustCompile(`(?i)none`)
)

func graceSeconds(match []string, unit uint64) GraceStatus {
	n, _ := strconv.ParseUint(match[1], 10, 64)
	remaining := n * unit
	return GraceStatus{Expired: true, Remaining: &remaining}
}

// DecodeGrace turns grace-period text reported by the backend ("7 days",
// "3 hours", "2 minutes", "expired", "none") into a GraceStatus. A subject
// with any grace period running is already over its soft limit, so every
// pattern except "none" decodes to Expired.
func DecodeGrace(raw string) (GraceStatus, error) {
	switch {
	case graceDaysRegex.MatchString(raw):
		return graceSeconds(graceDaysRegex.FindStringSubmatch(raw), 86400), nil
	case graceHoursRegex.MatchString(raw):
		return graceSeconds(graceHoursRegex.FindStringSubmatch(raw), 3600), nil
	case graceMinutesRegex.MatchString(raw):
		return graceSeconds(graceMinutesRegex.FindStringSubmatch(raw), 60), nil
	case graceExpiredRegex.MatchString(raw):
		zero := uint64(0)
		return GraceStatus{Expired: true, Remaining: &zero}, nil
	case graceNoneRegex.MatchString(raw):
		return GraceStatus{Expired: false}, nil
	default:
		return GraceStatus{}, &GraceFormatError{Raw: raw}
	}
}
