package pipeline

import (
	"strconv"
	"strings"
	"time"
)

// ParseTimestamp accepts a GPS sample timestamp in any of the three forms
// clients send: Unix seconds, Unix milliseconds, or an ISO8601/RFC3339
// string. A bare integer with more than 12 digits is taken
// as milliseconds; anything shorter is taken as seconds. Callers that
// cannot parse a timestamp should fall back to the pipeline's clock and log
// the rejected value rather than fail the whole batch over it.
func ParseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, &Error{Kind: KindInvalidInput, Message: "empty timestamp"}
	}

	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if n >= 1e12 {
			return time.Unix(0, n*int64(time.Millisecond)).UTC(), nil
		}
		return time.Unix(n, 0).UTC(), nil
	}

	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}

	return time.Time{}, newError(KindInvalidInput, "unrecognized timestamp format: "+strconv.Quote(raw), nil)
}
