package security

import (
	"os"
	"path/filepath"
	"testing"
)

func TestValidatePathWithinDirectory(t *testing.T) {
	tmpDir := t.TempDir()

	workDir := filepath.Join(tmpDir, "work")
	elsewhere := filepath.Join(tmpDir, "elsewhere")
	for _, d := range []string{workDir, elsewhere} {
		if err := os.MkdirAll(d, 0755); err != nil {
			t.Fatalf("Failed to create %s: %v", d, err)
		}
	}
	if err := os.Symlink(elsewhere, filepath.Join(workDir, "link")); err != nil {
		t.Fatalf("Failed to create symlink: %v", err)
	}

	tests := []struct {
		name      string
		filePath  string
		wantError bool
	}{
		{"artifact in work dir", filepath.Join(workDir, "20kms_briggs_3.0sigma_cube.fits"), false},
		{"nested script dir", filepath.Join(workDir, ".aurora", "01_clean.py"), false},
		{"work dir itself", workDir, false},
		{"dot dot escape", filepath.Join(workDir, "..", "x.fits"), true},
		{"symlinked parent", filepath.Join(workDir, "link", "x.fits"), true},
		{"absolute elsewhere", "/etc/passwd", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePathWithinDirectory(tt.filePath, workDir)
			if (err != nil) != tt.wantError {
				t.Errorf("ValidatePathWithinDirectory(%q) error = %v, wantError %v", tt.filePath, err, tt.wantError)
			}
		})
	}
}

func TestValidatePathWithinDirectory_MissingSafeDir(t *testing.T) {
	if err := ValidatePathWithinDirectory("x.fits", "/nonexistent/aurora/work"); err == nil {
		t.Error("expected error for missing safe directory")
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"20kms_cube", "20kms_cube"},
		{"co 2-1 cube", "co_2-1_cube"},
		{"cube*", "cube"},
		{"../../etc", "etc"},
		{"", "unknown"},
		{"***", "unknown"},
		{"a/b\\c", "a_b_c"},
	}
	for _, tt := range tests {
		if got := SanitizeFilename(tt.in); got != tt.want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestValidateRunTag(t *testing.T) {
	valid := []string{"20kms_cube", "CO2-1_v2", "run-7"}
	for _, tag := range valid {
		if err := ValidateRunTag(tag); err != nil {
			t.Errorf("ValidateRunTag(%q) unexpected error: %v", tag, err)
		}
	}

	invalid := []string{"", "cube*", "my cube", "../x", "_lead", "cube.mom", "CO2-1.v2"}
	for _, tag := range invalid {
		if err := ValidateRunTag(tag); err == nil {
			t.Errorf("ValidateRunTag(%q) expected error", tag)
		}
	}
}
