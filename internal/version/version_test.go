package version

import (
	"strings"
	"testing"
)

func TestStringIncludesBuildInfo(t *testing.T) {
	old := GitCommit
	GitCommit = "abc1234"
	defer func() { GitCommit = old }()

	s := String()
	if !strings.HasPrefix(s, "cardscan "+Version) || !strings.Contains(s, "abc1234") {
		t.Fatalf("unexpected version line %q", s)
	}
}
