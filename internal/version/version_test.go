package version_test

import (
	"strings"
	"testing"

	"github.com/planbridge/planbridge/internal/version"
)

func TestDefaults(t *testing.T) {
	t.Parallel()

	if version.Version == "" {
		t.Error("Version is empty")
	}
	if version.Commit == "" {
		t.Error("Commit is empty")
	}
	if version.BuildDate == "" {
		t.Error("BuildDate is empty")
	}
}

func TestString(t *testing.T) {
	t.Parallel()

	got := version.String()
	for _, part := range []string{version.Version, version.Commit, version.BuildDate} {
		if !strings.Contains(got, part) {
			t.Errorf("String() = %q, missing %q", got, part)
		}
	}
}
