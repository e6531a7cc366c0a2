package npm

import "fmt"

// Error codes matching the registry's error document vocabulary.
const (
	// CodeNotFound means the package itself does not exist (E404).
	CodeNotFound = "E404"

	// CodeTarget means the package exists but the requested version does
	// not (ETARGET). The error carries the package's dist-tags so callers
	// can fall back to latest without another round trip.
	CodeTarget = "ETARGET"
)

// Error is a structured registry lookup failure.
type Error struct {
	Code     string
	Name     string
	Version  string
	DistTags map[string]string
	Cause    error
}

func (e *Error) Error() string {
	switch e.Code {
	case CodeTarget:
		return fmt.Sprintf("%s: version %s of %s not found", e.Code, e.Version, e.Name)
	case CodeNotFound:
		return fmt.Sprintf("%s: package %s not found", e.Code, e.Name)
	}
	return fmt.Sprintf("%s: %s@%s: %v", e.Code, e.Name, e.Version, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }
