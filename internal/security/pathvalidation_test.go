package security

import (
	"path/filepath"
	"testing"
)

func TestValidatePathWithinDirectory(t *testing.T) {
	base := t.TempDir()

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"direct child", filepath.Join(base, "course.gpx"), false},
		{"nested child", filepath.Join(base, "events", "42", "course.gpx"), false},
		{"cleaned traversal staying inside", filepath.Join(base, "events", "..", "course.gpx"), false},
		{"parent escape", filepath.Join(base, "..", "course.gpx"), true},
		{"deep escape", filepath.Join(base, "..", "..", "etc", "passwd"), true},
		{"unrelated absolute path", "/etc/passwd", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePathWithinDirectory(tt.path, base)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePathWithinDirectory(%q) error = %v, wantErr %v", tt.path, err, tt.wantErr)
			}
		})
	}
}

func TestValidateGPXSourcePath(t *testing.T) {
	base := t.TempDir()

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"gpx inside base", filepath.Join(base, "course.gpx"), false},
		{"uppercase extension", filepath.Join(base, "COURSE.GPX"), false},
		{"wrong extension", filepath.Join(base, "course.kml"), true},
		{"no extension", filepath.Join(base, "course"), true},
		{"gpx escaping base", filepath.Join(base, "..", "course.gpx"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateGPXSourcePath(tt.path, base)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateGPXSourcePath(%q) error = %v, wantErr %v", tt.path, err, tt.wantErr)
			}
		})
	}
}
