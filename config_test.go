package tagcache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	filename := filepath.Join(t.TempDir(), "profiles.yml")
	if err := os.WriteFile(filename, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return filename
}

func TestLoadProfiles(t *testing.T) {
	filename := writeConfig(t, `
profiles:
  blog:
    stale: 5m
    revalidate: 1h
    expire: 24h
  pinned:
    stale: 10m
    revalidate: max
    expire: max
`)
	profiles, err := LoadProfiles(filename)
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]Policy{
		"blog":   {Stale: 5 * time.Minute, Revalidate: time.Hour, Expire: 24 * time.Hour},
		"pinned": {Stale: 10 * time.Minute, Revalidate: Unbounded, Expire: Unbounded},
	}
	if diff := cmp.Diff(want, profiles); diff != "" {
		t.Fatalf("profiles mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadProfilesRejectsBadDurations(t *testing.T) {
	filename := writeConfig(t, `
profiles:
  broken:
    stale: soon
    revalidate: 1h
    expire: 24h
`)
	if _, err := LoadProfiles(filename); err == nil {
		t.Fatal("expected error for unparseable duration")
	}
}

func TestLoadProfilesRejectsOrderingViolations(t *testing.T) {
	filename := writeConfig(t, `
profiles:
  backwards:
    stale: 1h
    revalidate: 5m
    expire: 24h
`)
	if _, err := LoadProfiles(filename); err == nil {
		t.Fatal("expected error for stale > revalidate")
	}
}

func TestLoadProfilesMissingFile(t *testing.T) {
	if _, err := LoadProfiles(filepath.Join(t.TempDir(), "nope.yml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
