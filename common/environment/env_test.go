package environment_test

import (
	"testing"
	"time"

	"github.com/arcanos/arcanos/common/environment"
)

func TestStringOr(t *testing.T) {
	t.Setenv("ARC_TEST_STR", "value")
	if got := environment.StringOr("ARC_TEST_STR", "fallback"); got != "value" {
		t.Errorf("StringOr set = %q", got)
	}
	if got := environment.StringOr("ARC_TEST_UNSET", "fallback"); got != "fallback" {
		t.Errorf("StringOr unset = %q", got)
	}
}

func TestRequiredString(t *testing.T) {
	if _, err := environment.RequiredString("ARC_TEST_MISSING"); err == nil {
		t.Error("expected error for missing required variable")
	}
	t.Setenv("ARC_TEST_REQ", "x")
	v, err := environment.RequiredString("ARC_TEST_REQ")
	if err != nil || v != "x" {
		t.Errorf("RequiredString = %q, %v", v, err)
	}
}

func TestBoolOr(t *testing.T) {
	t.Setenv("ARC_TEST_BOOL", "true")
	if !environment.BoolOr("ARC_TEST_BOOL", false) {
		t.Error("BoolOr true parse failed")
	}
	t.Setenv("ARC_TEST_BOOL", "garbage")
	if !environment.BoolOr("ARC_TEST_BOOL", true) {
		t.Error("BoolOr must fall back on parse failure")
	}
}

func TestIntOr(t *testing.T) {
	t.Setenv("ARC_TEST_INT", "42")
	if got := environment.IntOr("ARC_TEST_INT", 7); got != 42 {
		t.Errorf("IntOr = %d", got)
	}
	if got := environment.IntOr("ARC_TEST_INT_UNSET", 7); got != 7 {
		t.Errorf("IntOr fallback = %d", got)
	}
}

func TestFloatOr(t *testing.T) {
	t.Setenv("ARC_TEST_FLOAT", "0.65")
	if got := environment.FloatOr("ARC_TEST_FLOAT", 0.5); got != 0.65 {
		t.Errorf("FloatOr = %f", got)
	}
	t.Setenv("ARC_TEST_FLOAT", "nope")
	if got := environment.FloatOr("ARC_TEST_FLOAT", 0.5); got != 0.5 {
		t.Errorf("FloatOr fallback = %f", got)
	}
}

func TestDurationOr(t *testing.T) {
	t.Setenv("ARC_TEST_DUR", "30s")
	if got := environment.DurationOr("ARC_TEST_DUR", time.Minute); got != 30*time.Second {
		t.Errorf("DurationOr = %s", got)
	}
}

func TestStringSliceOr(t *testing.T) {
	t.Setenv("ARC_TEST_SLICE", "deep:, think:,  query: ")
	got := environment.StringSliceOr("ARC_TEST_SLICE", nil)
	want := []string{"deep:", "think:", "query:"}
	if len(got) != len(want) {
		t.Fatalf("StringSliceOr = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("element %d = %q, want %q", i, got[i], want[i])
		}
	}
}
