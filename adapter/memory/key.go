package memory

import (
	"fmt"
	"strconv"
	"strings"
)

const keySeparator = ":"

// docKey is a "model:id" document key. Segments that both parse as
// integers compare numerically, so user:11 sorts before user:100.
type docKey struct {
	key      string
	segments []string
}

func newDocKey(k string) docKey {
	return docKey{
		key:      k,
		segments: strings.Split(k, keySeparator),
	}
}

func keyFor(model string, id interface{}) docKey {
	return newDocKey(model + keySeparator + idString(id))
}

func idString(id interface{}) string {
	switch v := id.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	}
	return fmt.Sprint(id)
}

func (k docKey) String() string {
	return k.key
}

func (k docKey) Model() string {
	return k.segments[0]
}

// ID is everything after the model segment.
func (k docKey) ID() string {
	if len(k.segments) < 2 {
		return ""
	}
	return k.key[len(k.segments[0])+len(keySeparator):]
}

func (k docKey) Less(other docKey) bool {
	l := smallestSegmentLen(k.segments, other.segments)

	prevEq := false
	for i := 0; i < l; i++ {
		bothInts, a, b := convertToINTs(k.segments[i], other.segments[i])
		if bothInts {
			if a != b {
				return a < b
			}

			prevEq = true
			continue
		}

		if k.segments[i] != other.segments[i] {
			return k.segments[i] < other.segments[i]
		}

		prevEq = true
	}

	return prevEq && len(other.segments) > len(k.segments)
}

func byDocKeys(a, b interface{}) bool {
	return a.(*document).key.Less(b.(*document).key)
}

func smallestSegmentLen(a, b []string) int {
	if len(a) > len(b) {
		return len(b)
	}

	return len(a)
}

func convertToINTs(a, b string) (bool, int, int) {
	if a == "" || b == "" || a[0] == '0' || b[0] == '0' {
		return false, 0, 0
	}

	an, err := strconv.Atoi(a)
	if err != nil {
		return false, 0, 0
	}

	bn, err := strconv.Atoi(b)
	if err != nil {
		return false, 0, 0
	}

	return true, an, bn
}
