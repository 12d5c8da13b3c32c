package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Manager derives per-job file paths from three fixed roots. All derivations
// are pure functions of the job id, so any component can recompute them.
type Manager struct {
	UploadsDir string
	OutputsDir string
	WorkDir    string
}

// Paths is the workspace of a single job: intermediates plus the final output.
type Paths struct {
	Audio        string
	Subtitle     string
	Output       string
	TempSubtitle string
}

func New(uploadsDir, outputsDir, workDir string) (*Manager, error) {
	if strings.TrimSpace(uploadsDir) == "" || strings.TrimSpace(outputsDir) == "" {
		return nil, errors.New("uploads and outputs directories are required")
	}
	if strings.TrimSpace(workDir) == "" {
		workDir = "."
	}
	return &Manager{
		UploadsDir: uploadsDir,
		OutputsDir: outputsDir,
		WorkDir:    workDir,
	}, nil
}

func (m *Manager) EnsureDirs() error {
	for _, dir := range []string{m.UploadsDir, m.OutputsDir, m.WorkDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// JobID derives the job identifier from a stored filename by stripping the
// trailing extension. The stored name is already sanitized, so the id is safe
// as a path component.
func JobID(storedName string) string {
	return strings.TrimSuffix(storedName, filepath.Ext(storedName))
}

// JobPaths computes the derived workspace for an id. The subtitle path must
// match the transcriber's own output convention exactly: base name + .srt in
// the outputs directory. The temp subtitle is a short relative name in the
// work root because the subtitles filter is fragile with long quoted paths.
func (m *Manager) JobPaths(id string) Paths {
	return Paths{
		Audio:        filepath.Join(m.UploadsDir, id+".wav"),
		Subtitle:     filepath.Join(m.OutputsDir, id+".srt"),
		Output:       filepath.Join(m.OutputsDir, OutputName(id)),
		TempSubtitle: filepath.Join(m.WorkDir, "temp_"+id+".srt"),
	}
}

// OutputName is the basename of the rendered video. It embeds only the derived
// job id, never the user-supplied original filename.
func OutputName(id string) string {
	return "subtitled_" + id + ".mp4"
}

// StoredName builds a unique, filesystem-safe name for an uploaded file.
func StoredName(originalFilename string, now time.Time) string {
	ext := strings.ToLower(filepath.Ext(originalFilename))
	base := strings.TrimSuffix(filepath.Base(originalFilename), filepath.Ext(originalFilename))
	base = sanitizePathToken(base)
	return fmt.Sprintf("%d-%s%s", now.UnixMilli(), base, ext)
}

// Cleanup removes the intermediate audio file and temp subtitle copy.
// Idempotent; a target that is already absent is not an error.
func (m *Manager) Cleanup(p Paths) error {
	var errs []error
	for _, path := range []string{p.Audio, p.TempSubtitle} {
		if path == "" {
			continue
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, fmt.Errorf("remove %s: %w", path, err))
		}
	}
	return errors.Join(errs...)
}

func sanitizePathToken(in string) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return "upload"
	}

	var b strings.Builder
	b.Grow(len(in))
	for _, r := range in {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
