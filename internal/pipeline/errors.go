package pipeline

import "fmt"

// MissingArtifactError reports a tool that exited successfully but did not
// produce the file the next stage depends on.
type MissingArtifactError struct {
	Path string
}

func (e *MissingArtifactError) Error() string {
	return fmt.Sprintf("expected artifact was not produced: %s", e.Path)
}
