package version

import "testing"

func TestString(t *testing.T) {
	orig := []string{Version, GitSHA, BuildTime}
	defer func() { Version, GitSHA, BuildTime = orig[0], orig[1], orig[2] }()

	if got := String(); got != "dev (unknown, built unknown)" {
		t.Errorf("String() = %q", got)
	}

	Version, GitSHA, BuildTime = "v1.0.0", "abc123", "2024-01-01"
	if got := String(); got != "v1.0.0 (abc123, built 2024-01-01)" {
		t.Errorf("String() = %q", got)
	}
}
