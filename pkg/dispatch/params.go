package dispatch

import (
	"os"
	"path/filepath"
	"strings"
)

// checkCrateID rejects ids that are not a single path segment. The id names
// both an object store prefix and a local work directory.
func checkCrateID(id string) error {
	if strings.TrimSpace(id) == "" {
		return userInput("Missing required parameter: crate_id")
	}
	if strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return userInput("Invalid parameter crate_id: " + id)
	}
	return nil
}

// profilesPath resolves a requested profiles directory against the server's
// profiles root. Relative paths are taken from the root; anything outside it
// is rejected.
func (s *Service) profilesPath(requested string) (string, error) {
	if requested == "" {
		return "", nil
	}
	if s.cfg.ProfilesRoot == "" {
		return "", userInput("Parameter profiles_path is not accepted: the server has no profiles directory")
	}

	root, err := filepath.Abs(s.cfg.ProfilesRoot)
	if err != nil {
		return "", dispatchFailed("resolve profiles directory", err)
	}
	path := requested
	if !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}
	path = filepath.Clean(path)
	if path != root && !strings.HasPrefix(path, root+string(os.PathSeparator)) {
		return "", userInput("Invalid parameter profiles_path: must be inside the server profiles directory")
	}
	return path, nil
}
