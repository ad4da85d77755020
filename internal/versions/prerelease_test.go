package versions

import "testing"

func TestIsPrerelease(t *testing.T) {
	t.Parallel()

	tests := []struct {
		version string
		want    bool
	}{
		{"1.2.3", false},
		{"v2.0.0", false},
		{"1.2.3-beta.1", true},
		{"2.0.0-rc1", true},
		{"0.0.7", true},
		{"0.4.0", false},
		{"nightly", true},
		{"2024.05-dev", true},
		{"release", false},
		{"build 7 rc2", true},
		{"2024.05 prerelease", true},
		{"2024.05 source", false},
		{"stable devices build", false},
		{"2024.05_Canary", true},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			t.Parallel()
			if got := IsPrerelease(tt.version); got != tt.want {
				t.Errorf("IsPrerelease(%q) = %v; want %v", tt.version, got, tt.want)
			}
		})
	}
}
