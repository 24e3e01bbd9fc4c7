package exclude

import "testing"

func TestIsExcluded(t *testing.T) {
	matcher := New([]string{"*.tmp", ".git/", "node_modules/", "secret.txt", "build/*.o"})

	tests := []struct {
		path string
		want bool
	}{
		{"notes.txt", false},
		{"cache.tmp", true},
		{"deep/nested/cache.tmp", true},
		{".git/config", true},
		{".git", true},
		{".gitignore", false},
		{"node_modules/pkg/index.js", true},
		{"secret.txt", true},
		{"docs/secret.txt", true},
		{"build/main.o", true},
		{"build/sub/main.o", false},
		{"main.o", false},
	}

	for _, tt := range tests {
		if got := matcher.IsExcluded(tt.path); got != tt.want {
			t.Errorf("IsExcluded(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestNilMatcher(t *testing.T) {
	var matcher *Matcher
	if matcher.IsExcluded("anything") {
		t.Error("nil matcher should exclude nothing")
	}
}

func TestEmptyPatternsSkipped(t *testing.T) {
	matcher := New([]string{"", "  ", "*.log"})
	if matcher.IsExcluded("a.txt") {
		t.Error("blank patterns must not match everything")
	}
	if !matcher.IsExcluded("a.log") {
		t.Error("expected *.log to match")
	}
}

func TestValidate(t *testing.T) {
	if err := Validate([]string{"*.tmp", ".git/", ""}); err != nil {
		t.Errorf("Expected valid patterns, got %v", err)
	}
	if err := Validate([]string{"[unclosed"}); err == nil {
		t.Error("Expected malformed pattern to fail validation")
	}
}
