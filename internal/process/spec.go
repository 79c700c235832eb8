package process

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// Spec describes one bidder launch.
type Spec struct {
	Name       string            `json:"name"`
	Executable string            `json:"executable"` // relative to the launcher's exec root
	Params     map[string]string `json:"params"`     // forwarded as -key value
	Config     json.RawMessage   `json:"config"`     // written to <config dir>/<name>.conf.json
	LogPath    string            `json:"log_path"`   // receives stdout and stderr
}

// BuildArgs returns "-key value" pairs for params, ordered by key, followed by
// "-f configPath".
func BuildArgs(params map[string]string, configPath string) []string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	args := make([]string, 0, 2*len(keys)+2)
	for _, k := range keys {
		args = append(args, "-"+strings.TrimLeft(k, "-"), params[k])
	}
	return append(args, "-f", configPath)
}

// resolveExecutable joins exe onto root and refuses anything that escapes it.
func resolveExecutable(root, exe string) (string, error) {
	if strings.TrimSpace(exe) == "" {
		return "", fmt.Errorf("%w: empty executable", ErrSpawnFailed)
	}
	full := filepath.Join(root, exe)
	rel, err := filepath.Rel(root, full)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: executable %q is outside %s", ErrSpawnFailed, exe, root)
	}
	return full, nil
}
