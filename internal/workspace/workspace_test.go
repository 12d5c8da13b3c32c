package workspace

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestJobIDStripsExtension(t *testing.T) {
	if got := JobID("1700000000000-movie.mp4"); got != "1700000000000-movie" {
		t.Fatalf("expected 1700000000000-movie, got %s", got)
	}
	if got := JobID("clip"); got != "clip" {
		t.Fatalf("expected clip, got %s", got)
	}
}

func TestJobPathsAreDeterministic(t *testing.T) {
	m, err := New("uploads", "outputs", ".")
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	first := m.JobPaths("1700000000000-movie")
	second := m.JobPaths("1700000000000-movie")
	if first != second {
		t.Fatalf("expected identical paths, got %+v vs %+v", first, second)
	}

	if first.Audio != filepath.Join("uploads", "1700000000000-movie.wav") {
		t.Fatalf("unexpected audio path: %s", first.Audio)
	}
	if first.Subtitle != filepath.Join("outputs", "1700000000000-movie.srt") {
		t.Fatalf("unexpected subtitle path: %s", first.Subtitle)
	}
	if first.Output != filepath.Join("outputs", "subtitled_1700000000000-movie.mp4") {
		t.Fatalf("unexpected output path: %s", first.Output)
	}
	if first.TempSubtitle != "temp_1700000000000-movie.srt" {
		t.Fatalf("unexpected temp subtitle path: %s", first.TempSubtitle)
	}
}

func TestStoredNameSanitizesOriginal(t *testing.T) {
	now := time.UnixMilli(1700000000000)

	if got := StoredName("movie.mp4", now); got != "1700000000000-movie.mp4" {
		t.Fatalf("expected 1700000000000-movie.mp4, got %s", got)
	}

	hostile := StoredName(`"; rm -rf / ;".mp4`, now)
	for _, r := range hostile {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-' || r == '_' || r == '.':
		default:
			t.Fatalf("stored name contains unsafe rune %q: %s", r, hostile)
		}
	}
}

func TestCleanupRemovesIntermediatesAndIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	m, err := New(dir, dir, dir)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	paths := m.JobPaths("job1")
	for _, path := range []string{paths.Audio, paths.TempSubtitle} {
		if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
			t.Fatalf("seed file: %v", err)
		}
	}

	if err := m.Cleanup(paths); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	for _, path := range []string{paths.Audio, paths.TempSubtitle} {
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Fatalf("expected %s to be removed", path)
		}
	}

	// Second pass over absent files must not fail.
	if err := m.Cleanup(paths); err != nil {
		t.Fatalf("idempotent cleanup: %v", err)
	}
}
