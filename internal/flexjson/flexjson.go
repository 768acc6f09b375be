// Package flexjson holds JSON field types for upstream APIs that encode the
// same field as a string in one reply and a number in the next.
package flexjson

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// String accepts a JSON string or number.
type String string

func (s *String) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*s = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = String(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*s = String(n.String())
	return nil
}

func (s String) String() string { return string(s) }

// Count is a non-negative counter. It accepts a number, a numeric string or
// null. Negative values are clamped to 0. NaN, infinities and values beyond
// int64 are rejected.
type Count int64

func (c *Count) UnmarshalJSON(b []byte) error {
	raw := strings.TrimSpace(strings.Trim(string(b), `"`))
	if raw == "null" || raw == "" {
		*c = 0
		return nil
	}

	if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*c = Count(max(v, 0))
		return nil
	}

	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("invalid counter %s", string(b))
	}
	// float64(math.MaxInt64) rounds up to 2^63, which does not fit.
	if v >= math.MaxInt64 {
		return fmt.Errorf("counter %s out of range", string(b))
	}
	if v < 0 {
		v = 0
	}
	*c = Count(v)
	return nil
}

// Time accepts unix seconds or an RFC 3339 string. null leaves it zero.
type Time struct {
	time.Time
}

func (t *Time) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		parsed, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return fmt.Errorf("invalid timestamp %q", s)
		}
		t.Time = parsed.UTC()
		return nil
	}
	secs, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid timestamp %s", string(b))
	}
	t.Time = time.Unix(secs, 0).UTC()
	return nil
}
