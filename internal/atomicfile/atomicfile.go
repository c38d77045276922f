// Package atomicfile replaces files by writing a temporary sibling and renaming it
// over the target, so readers never observe a partially written file.
package atomicfile

import (
	"fmt"
	"os"

	"github.com/google/renameio/v2"
)

// Step identifies which stage of Write failed.
type Step int

const (
	// StepCreate is the creation of the temporary file.
	StepCreate Step = iota
	// StepWrite is writing the content.
	StepWrite
	// StepCommit is the final rename over the target.
	StepCommit
)

func (s Step) String() string {
	switch s {
	case StepCreate:
		return "create"
	case StepWrite:
		return "write"
	case StepCommit:
		return "commit"
	default:
		return "unknown"
	}
}

// Error reports a failed Write along with the step that failed.
type Error struct {
	Step Step
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Step, e.Path, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Write atomically replaces path with data. On failure the target is left
// untouched and the temporary file is removed.
func Write(path string, data []byte, perm os.FileMode) error {
	pf, err := renameio.NewPendingFile(path, renameio.WithPermissions(perm))
	if err != nil {
		return &Error{Step: StepCreate, Path: path, Err: err}
	}
	defer pf.Cleanup()

	if _, err := pf.Write(data); err != nil {
		return &Error{Step: StepWrite, Path: path, Err: err}
	}
	if err := pf.CloseAtomicallyReplace(); err != nil {
		return &Error{Step: StepCommit, Path: path, Err: err}
	}
	return nil
}

// FailedStep returns the step recorded in err, or StepCommit if err did not
// come from Write.
func FailedStep(err error) Step {
	if e, ok := err.(*Error); ok {
		return e.Step
	}
	return StepCommit
}
