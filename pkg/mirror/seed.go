package mirror

import (
	"encoding/json"
	"os"
	"strings"

	pkgerrors "github.com/packmule/packmule/pkg/errors"
	"github.com/packmule/packmule/pkg/registry/npm"
)

// ParseSpec splits a raw package spec into name and range.
//
//	left-pad            → (left-pad, latest)
//	left-pad@^1.3.0     → (left-pad, ^1.3.0)
//	@scope/foo@2.x      → (@scope/foo, 2.x)
//	@scope/foo          → (@scope/foo, latest)
func ParseSpec(spec string) (name, rng string, err error) {
	s := strings.TrimSpace(spec)
	if s == "" {
		return "", "", pkgerrors.New(pkgerrors.ErrCodeInvalidSpec, "empty package spec")
	}

	// The leading @ of a scope is not a version separator.
	at := strings.LastIndex(s[1:], "@")
	if at < 0 {
		return s, "latest", nil
	}
	at++

	name, rng = s[:at], s[at+1:]
	if name == "" || rng == "" {
		return "", "", pkgerrors.New(pkgerrors.ErrCodeInvalidSpec, "malformed package spec %q", spec)
	}
	if strings.HasPrefix(name, "@") && !strings.Contains(name, "/") {
		return "", "", pkgerrors.New(pkgerrors.ErrCodeInvalidSpec, "scoped spec %q is missing its package name", spec)
	}
	return name, rng, nil
}

// RootFromSpecs builds the synthetic root manifest for an explicit seed
// list.
func RootFromSpecs(specs []string) (*npm.Manifest, error) {
	deps := make(map[string]string, len(specs))
	for _, spec := range specs {
		name, rng, err := ParseSpec(spec)
		if err != nil {
			return nil, err
		}
		deps[name] = rng
	}
	return &npm.Manifest{Name: "packmule-roots", Dependencies: deps}, nil
}

// RootFromSeeds builds the root manifest for concrete seeds produced by
// the search service.
func RootFromSeeds(seeds []npm.Seed) *npm.Manifest {
	deps := make(map[string]string, len(seeds))
	for _, s := range seeds {
		deps[s.Name] = s.Version
	}
	return &npm.Manifest{Name: "packmule-roots", Dependencies: deps}
}

// RootFromFile reads a manifest file (package.json shape). A missing
// file or a manifest without a dependencies field is fatal to the
// invocation.
func RootFromFile(path string) (*npm.Manifest, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, pkgerrors.New(pkgerrors.ErrCodeFileNotFound, "manifest %s does not exist", path)
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.ErrCodeInvalidManifest, err, "read manifest %s", path)
	}

	var m npm.Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.ErrCodeInvalidManifest, err, "parse manifest %s", path)
	}
	if m.Dependencies == nil {
		return nil, pkgerrors.New(pkgerrors.ErrCodeInvalidManifest, "manifest %s has no dependencies field", path)
	}
	return &m, nil
}
