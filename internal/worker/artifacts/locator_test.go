package artifacts

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	testingclock "k8s.io/utils/clock/testing"
)

func writeFile(t *testing.T, dir, name string, mtime time.Time) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(name), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	if err := os.Chtimes(p, mtime, mtime); err != nil {
		t.Fatalf("chtimes %s: %v", name, err)
	}
	return p
}

func TestLocateSelectsNewestPerKind(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	clk := testingclock.NewFakePassiveClock(now)

	writeFile(t, dir, "motion_00001.npz", now.Add(-60*time.Second))
	writeFile(t, dir, "motion_00002.npz", now.Add(-10*time.Second))
	writeFile(t, dir, "motion_00001.fbx", now.Add(-30*time.Second))
	writeFile(t, dir, "notes.txt", now)

	found, err := NewLocator(dir, 300*time.Second, clk).Locate("")
	if err != nil {
		t.Fatalf("Locate() error: %v", err)
	}

	if got := found[KindMotion].Filename; got != "motion_00002.npz" {
		t.Errorf("expected newest npz, got %q", got)
	}
	if got := found[KindExport].Filename; got != "motion_00001.fbx" {
		t.Errorf("expected fbx, got %q", got)
	}
	if !filepath.IsAbs(found[KindMotion].Path) {
		t.Errorf("expected absolute path, got %q", found[KindMotion].Path)
	}
	if len(found) != 2 {
		t.Errorf("expected 2 kinds, got %d", len(found))
	}
}

func TestLocateIgnoresStaleFiles(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	clk := testingclock.NewFakePassiveClock(now)

	writeFile(t, dir, "old.npz", now.Add(-301*time.Second))
	writeFile(t, dir, "old.fbx", now.Add(-time.Hour))

	found, err := NewLocator(dir, 300*time.Second, clk).Locate("")
	if err != nil {
		t.Fatalf("Locate() error: %v", err)
	}
	if len(found) != 0 {
		t.Errorf("expected empty result for stale files, got %v", found)
	}
}

func TestLocateTieBreaksByName(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	mtime := now.Add(-5 * time.Second)

	writeFile(t, dir, "b.npz", mtime)
	writeFile(t, dir, "a.npz", mtime)

	found, err := NewLocator(dir, 0, testingclock.NewFakePassiveClock(now)).Locate("")
	if err != nil {
		t.Fatalf("Locate() error: %v", err)
	}
	if got := found[KindMotion].Filename; got != "a.npz" {
		t.Errorf("expected a.npz on tie, got %q", got)
	}
}

func TestLocatePrefix(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()

	writeFile(t, dir, "walk_00001.npz", now.Add(-20*time.Second))
	writeFile(t, dir, "other_00001.npz", now.Add(-time.Second))

	found, err := NewLocator(dir, time.Minute, testingclock.NewFakePassiveClock(now)).Locate("walk")
	if err != nil {
		t.Fatalf("Locate() error: %v", err)
	}
	if got := found[KindMotion].Filename; got != "walk_00001.npz" {
		t.Errorf("expected prefixed file, got %q", got)
	}
}

func TestLocateMissingDirectory(t *testing.T) {
	found, err := NewLocator(filepath.Join(t.TempDir(), "missing"), time.Minute, nil).Locate("")
	if err != nil {
		t.Fatalf("Locate() error: %v", err)
	}
	if len(found) != 0 {
		t.Errorf("expected nothing in a missing directory, got %v", found)
	}
}

func TestClearRemovesTrackedFiles(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()

	writeFile(t, dir, "a.npz", now)
	writeFile(t, dir, "b.fbx", now)
	keep := writeFile(t, dir, "keep.png", now)

	l := NewLocator(dir, time.Minute, testingclock.NewFakePassiveClock(now))
	if removed := l.Clear(); removed != 2 {
		t.Errorf("expected 2 removed, got %d", removed)
	}

	found, err := l.Locate("")
	if err != nil {
		t.Fatalf("Locate() error: %v", err)
	}
	if len(found) != 0 {
		t.Errorf("expected nothing after clear, got %v", found)
	}
	if _, err := os.Stat(keep); err != nil {
		t.Errorf("expected untracked file to survive: %v", err)
	}
}

func TestKindExt(t *testing.T) {
	if KindMotion.Ext() != ".npz" || KindExport.Ext() != ".fbx" {
		t.Errorf("unexpected extensions %q %q", KindMotion.Ext(), KindExport.Ext())
	}
}
