package profile

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/matheus3301/chatsync/internal/config"
)

func TestDir(t *testing.T) {
	base := t.TempDir()
	t.Setenv("CHATSYNC_HOME", base)
	if got, want := Dir("main"), filepath.Join(base, "profiles", "main"); got != want {
		t.Errorf("Dir(main) = %q, want %q", got, want)
	}
	if got := CachePath("test"); !strings.HasSuffix(got, filepath.Join("profiles", "test", "cache.db")) {
		t.Errorf("CachePath(test) = %q", got)
	}
	if got := LogPath("test"); !strings.HasSuffix(got, filepath.Join("profiles", "test", "logs", "chatsync.log")) {
		t.Errorf("LogPath(test) = %q", got)
	}
}

func TestEnsureDir(t *testing.T) {
	t.Setenv("CHATSYNC_HOME", t.TempDir())
	if err := EnsureDir("work"); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(LogDir("work"))
	if err != nil {
		t.Fatalf("log dir not created: %v", err)
	}
	if !info.IsDir() || info.Mode().Perm() != 0700 {
		t.Errorf("log dir mode = %v", info.Mode())
	}
}

func TestResolve(t *testing.T) {
	cfg := &config.Config{DefaultProfile: "work"}
	tests := []struct {
		flag string
		cfg  *config.Config
		want string
	}{
		{"alt", cfg, "alt"},
		{"", cfg, "work"},
		{"", &config.Config{}, DefaultName},
		{"", nil, DefaultName},
	}
	for _, tt := range tests {
		if got := Resolve(tt.flag, tt.cfg); got != tt.want {
			t.Errorf("Resolve(%q) = %q, want %q", tt.flag, got, tt.want)
		}
	}
}

func TestValidateName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid simple", "main", false},
		{"valid with numbers", "work123", false},
		{"valid with hyphen", "my-profile", false},
		{"valid with underscore", "my_profile", false},
		{"valid max length", strings.Repeat("a", 64), false},
		{"empty", "", true},
		{"uppercase", "Main", true},
		{"space", "my profile", true},
		{"dot", "my.profile", true},
		{"too long", strings.Repeat("a", 65), true},
		{"slash", "my/profile", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}
