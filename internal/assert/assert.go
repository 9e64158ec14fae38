// Package assert provides small test helpers in the teacher's style
// (internal/assert), built on go-cmp and go-spew rather than reimplementing
// diffing/pretty-printing by hand.
package assert

import (
	"errors"
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/google/go-cmp/cmp"
)

func True(t *testing.T, cond bool, msgAndArgs ...interface{}) {
	t.Helper()
	if !cond {
		t.Fatalf(format(msgAndArgs, "expected condition to be true"))
	}
}

func False(t *testing.T, cond bool, msgAndArgs ...interface{}) {
	t.Helper()
	if cond {
		t.Fatalf(format(msgAndArgs, "expected condition to be false"))
	}
}

func Nil(t *testing.T, v interface{}, msgAndArgs ...interface{}) {
	t.Helper()
	if v != nil {
		if err, ok := v.(error); ok && err == nil {
			return
		}
		t.Fatalf(format(msgAndArgs, "expected nil, got %s", spew.Sdump(v)))
	}
}

func NotNil(t *testing.T, v interface{}, msgAndArgs ...interface{}) {
	t.Helper()
	if v == nil {
		t.Fatalf(format(msgAndArgs, "expected non-nil value"))
	}
}

func Equal(t *testing.T, want, got interface{}, msgAndArgs ...interface{}) {
	t.Helper()
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf(format(msgAndArgs, "mismatch (-want +got):\n%s", diff))
	}
}

func ErrorIs(t *testing.T, err, target error, msgAndArgs ...interface{}) {
	t.Helper()
	if err == nil || target == nil {
		if err != target {
			t.Fatalf(format(msgAndArgs, "expected error %v to match %v", err, target))
		}
		return
	}
	if !errors.Is(err, target) {
		t.Fatalf(format(msgAndArgs, "expected error %v to match %v", err, target))
	}
}

func format(msgAndArgs []interface{}, def string, defArgs ...interface{}) string {
	if len(msgAndArgs) == 0 {
		return sprintfSafe(def, defArgs...)
	}
	msg, ok := msgAndArgs[0].(string)
	if !ok {
		return sprintfSafe(def, defArgs...)
	}
	return sprintfSafe(msg, msgAndArgs[1:]...)
}

func sprintfSafe(format string, args ...interface{}) string {
	if len(args) == 0 {
		return format
	}
	return spew.Sprintf(format, args...)
}
