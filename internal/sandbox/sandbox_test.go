package sandbox

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestSanitizePath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"../../../etc/passwd", "/etc/passwd"},
		{"scans//run1", "/scans/run1"},
		{"/var//log///scan", "/var/log/scan"},
		{"relative/dir", "/relative/dir"},
		{"/already/clean", "/already/clean"},
	}
	for _, tc := range tests {
		got := SanitizePath(tc.in)
		if got != tc.want {
			t.Errorf("SanitizePath(%q) = %q, want %q", tc.in, got, tc.want)
		}
		if strings.Contains(got, "..") {
			t.Errorf("SanitizePath(%q) = %q still contains traversal token", tc.in, got)
		}
		if strings.Contains(got, "//") {
			t.Errorf("SanitizePath(%q) = %q still contains doubled separator", tc.in, got)
		}
	}
}

func TestBuild_DefaultRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "gate")
	b := NewBuilder(Config{Root: root, ScrubEnv: true}, testLogger())

	ctx, err := b.Build("")
	if err != nil {
		t.Fatalf("Build(\"\"): %v", err)
	}
	if ctx.WorkingDir != root {
		t.Errorf("WorkingDir = %q, want %q", ctx.WorkingDir, root)
	}
	if _, err := os.Stat(root); err != nil {
		t.Errorf("working dir not created: %v", err)
	}
}

func TestBuild_ConfinesCallerDir(t *testing.T) {
	root := filepath.Join(t.TempDir(), "gate")
	b := NewBuilder(Config{Root: root, ScrubEnv: true}, testLogger())

	ctx, err := b.Build("../../../etc/passwd")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !strings.HasPrefix(ctx.WorkingDir, root) {
		t.Errorf("WorkingDir %q escaped root %q", ctx.WorkingDir, root)
	}
	if strings.Contains(ctx.WorkingDir, "..") {
		t.Errorf("WorkingDir %q contains traversal token", ctx.WorkingDir)
	}
	if _, err := os.Stat(ctx.WorkingDir); err != nil {
		t.Errorf("working dir not created: %v", err)
	}
}

func TestBuild_DirUnderRootKept(t *testing.T) {
	root := filepath.Join(t.TempDir(), "gate")
	b := NewBuilder(Config{Root: root, ScrubEnv: true}, testLogger())

	want := filepath.Join(root, "scans", "run1")
	ctx, err := b.Build(want)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if ctx.WorkingDir != want {
		t.Errorf("WorkingDir = %q, want %q", ctx.WorkingDir, want)
	}
}

func TestBuildEnv_Scrubbed(t *testing.T) {
	t.Setenv("TOOLGATE_TEST_SECRET", "leaky")
	t.Setenv("LANG", "en_US.UTF-8")

	root := filepath.Join(t.TempDir(), "gate")
	b := NewBuilder(Config{Root: root, ScrubEnv: true}, testLogger())

	ctx, err := b.Build("")
	if err != nil {
		t.Fatal(err)
	}

	env := make(map[string]string, len(ctx.Env))
	for _, kv := range ctx.Env {
		k, v, _ := strings.Cut(kv, "=")
		env[k] = v
	}

	if _, leaked := env["TOOLGATE_TEST_SECRET"]; leaked {
		t.Error("non-allow-listed variable leaked into sandbox env")
	}
	if env["PWD"] != ctx.WorkingDir {
		t.Errorf("PWD = %q, want %q", env["PWD"], ctx.WorkingDir)
	}
	if v, ok := env["LD_PRELOAD"]; !ok || v != "" {
		t.Errorf("LD_PRELOAD = %q, want empty and present", v)
	}
	if v, ok := env["LD_LIBRARY_PATH"]; !ok || v != "" {
		t.Errorf("LD_LIBRARY_PATH = %q, want empty and present", v)
	}
	if env["LANG"] != "en_US.UTF-8" {
		t.Errorf("LANG = %q, want retained", env["LANG"])
	}
}

func TestBuildEnv_Unscrubbed(t *testing.T) {
	t.Setenv("TOOLGATE_TEST_SECRET", "inherited")

	root := filepath.Join(t.TempDir(), "gate")
	b := NewBuilder(Config{Root: root, ScrubEnv: false}, testLogger())

	ctx, err := b.Build("")
	if err != nil {
		t.Fatal(err)
	}

	env := make(map[string]string, len(ctx.Env))
	for _, kv := range ctx.Env {
		k, v, _ := strings.Cut(kv, "=")
		env[k] = v
	}
	if env["TOOLGATE_TEST_SECRET"] != "inherited" {
		t.Error("parent environment not inherited with scrubbing off")
	}
	if env["PWD"] != ctx.WorkingDir {
		t.Errorf("PWD = %q, want %q", env["PWD"], ctx.WorkingDir)
	}
	if v, ok := env["LD_PRELOAD"]; !ok || v != "" {
		t.Errorf("LD_PRELOAD = %q, want neutralized even unscrubbed", v)
	}
}
