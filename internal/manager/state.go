package manager

import (
	"regexp"
	"strings"
)

// State is what Status reports for a bidder name.
type State int

const (
	Down State = iota
	Up
	// Aborted means the bidder was registered but found dead; the call that
	// reports it also unregisters the name.
	Aborted
)

func (s State) String() string {
	switch s {
	case Up:
		return "up"
	case Aborted:
		return "aborted"
	default:
		return "down"
	}
}

var nameRe = regexp.MustCompile(`^[A-Za-z0-9_-][A-Za-z0-9._-]*$`)

// ValidName reports whether name can be used as a bidder name. Names become
// file names for configs, logs and records.
func ValidName(name string) bool {
	return len(name) <= 128 && nameRe.MatchString(name) && !strings.Contains(name, "..")
}
