package monitoring

import "testing"

func TestSetLoggerRedirects(t *testing.T) {
	orig := Logf
	defer SetLogger(orig)

	var got string
	SetLogger(func(format string, v ...any) { got = format })
	Logf("grid: %dx%d cells", 4, 4)
	if got != "grid: %dx%d cells" {
		t.Fatalf("custom sink not used, got %q", got)
	}
}

func TestNilLoggerMutes(t *testing.T) {
	orig := Logf
	defer SetLogger(orig)

	forwarded := false
	SetLogger(func(string, ...any) { forwarded = true })
	SetLogger(nil)
	Logf("pipeline: job %s completed", "a1b2c3")
	if forwarded {
		t.Fatalf("nil sink still forwarded output")
	}
}

func TestDefaultLoggerUsable(t *testing.T) {
	if Logf == nil {
		t.Fatalf("Logf must default to a usable sink")
	}
}
