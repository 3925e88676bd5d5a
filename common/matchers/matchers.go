// Package matchers holds Gomega matchers for storage client results.
package matchers

import (
	"crypto/sha1"
	"bytes"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/onsi/gomega/format"
	"github.com/onsi/gomega/types"

	"github.com/kis8ya/elliptics-qa/elliptics"
)

type errorKindMatcher struct {
	kind *elliptics.Error
}

// HaveErrorKind succeeds when actual is an error of the given client kind.
func HaveErrorKind(kind *elliptics.Error) types.GomegaMatcher {
	return &errorKindMatcher{kind: kind}
}

func (m *errorKindMatcher) Match(actual interface{}) (bool, error) {
	if actual == nil {
		return false, nil
	}
	err, ok := actual.(error)
	if !ok {
		return false, fmt.Errorf("HaveErrorKind expects an error, got\n%s", format.Object(actual, 1))
	}
	return errors.Is(err, m.kind), nil
}

func (m *errorKindMatcher) FailureMessage(actual interface{}) string {
	return format.Message(actual, fmt.Sprintf("to be a client error with code %d", m.kind.Code))
}

func (m *errorKindMatcher) NegatedFailureMessage(actual interface{}) string {
	return format.Message(actual, fmt.Sprintf("not to be a client error with code %d", m.kind.Code))
}

type contentKeyMatcher struct {
	key string
}

// BeContentOf succeeds when the sha1 of actual data (a []byte or a
// *elliptics.ReadResult) is key.
func BeContentOf(key string) types.GomegaMatcher {
	return &contentKeyMatcher{key: key}
}

func (m *contentKeyMatcher) Match(actual interface{}) (bool, error) {
	var data []byte
	switch v := actual.(type) {
	case []byte:
		data = v
	case *elliptics.ReadResult:
		if v == nil {
			return false, nil
		}
		data = v.Data
	default:
		return false, fmt.Errorf("BeContentOf expects []byte or *elliptics.ReadResult, got\n%s", format.Object(actual, 1))
	}
	sum := sha1.Sum(data)
	return hex.EncodeToString(sum[:]) == m.key, nil
}

func (m *contentKeyMatcher) FailureMessage(actual interface{}) string {
	return format.Message(actual, "to hash to", m.key)
}

func (m *contentKeyMatcher) NegatedFailureMessage(actual interface{}) string {
	return format.Message(actual, "not to hash to", m.key)
}

type subsetMatcher struct {
	set []string
}

// BeSubsetOf succeeds when every element of the actual []string is in set.
func BeSubsetOf(set []string) types.GomegaMatcher {
	return &subsetMatcher{set: set}
}

func (m *subsetMatcher) Match(actual interface{}) (bool, error) {
	items, ok := actual.([]string)
	if !ok {
		return false, fmt.Errorf("BeSubsetOf expects []string, got\n%s", format.Object(actual, 1))
	}
	in := make(map[string]bool, len(m.set))
	for _, s := range m.set {
		in[s] = true
	}
	for _, s := range items {
		if !in[s] {
			return false, nil
		}
	}
	return true, nil
}

func (m *subsetMatcher) FailureMessage(actual interface{}) string {
	return format.Message(actual, "to be a subset of", m.set)
}

func (m *subsetMatcher) NegatedFailureMessage(actual interface{}) string {
	return format.Message(actual, "not to be a subset of", m.set)
}

type readResultMatcher struct {
	data      []byte
	userFlags uint64
	since     time.Time
	mismatch  string
}

// BeReadResultOf succeeds when actual, an *elliptics.ReadResult, carries data
// with userFlags and was written at since or later.
func BeReadResultOf(data []byte, userFlags uint64, since time.Time) types.GomegaMatcher {
	return &readResultMatcher{data: data, userFlags: userFlags, since: since}
}

func (m *readResultMatcher) Match(actual interface{}) (bool, error) {
	r, ok := actual.(*elliptics.ReadResult)
	if !ok {
		return false, fmt.Errorf("BeReadResultOf expects *elliptics.ReadResult, got\n%s", format.Object(actual, 1))
	}
	switch {
	case r == nil:
		m.mismatch = "no result"
	case !bytes.Equal(r.Data, m.data):
		m.mismatch = fmt.Sprintf("%d bytes of data with sha1 %x, expected %d with sha1 %x", len(r.Data), sha1.Sum(r.Data), len(m.data), sha1.Sum(m.data))
	case r.UserFlags != m.userFlags:
		m.mismatch = fmt.Sprintf("user flags %d, expected %d", r.UserFlags, m.userFlags)
	case r.Timestamp.Before(m.since):
		m.mismatch = fmt.Sprintf("timestamp %s before %s", r.Timestamp, m.since)
	default:
		return true, nil
	}
	return false, nil
}

func (m *readResultMatcher) FailureMessage(actual interface{}) string {
	return "Expected the read result to match the write, got " + m.mismatch
}

func (m *readResultMatcher) NegatedFailureMessage(actual interface{}) string {
	return "Expected the read result not to match the write"
}
