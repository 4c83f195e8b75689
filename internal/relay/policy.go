package relay

import (
	"errors"
	"fmt"
	"strings"
)

// Outcome is the result of one operation against one relay.
type Outcome struct {
	URL string
	Err error
}

// Policy decides whether a fan-out succeeded as a whole.
type Policy func(outcomes []Outcome) bool

// AllOf succeeds only when every relay succeeded.
func AllOf(outcomes []Outcome) bool {
	if len(outcomes) == 0 {
		return false
	}
	for _, o := range outcomes {
		if o.Err != nil {
			return false
		}
	}
	return true
}

// AtLeastOne succeeds when any relay succeeded.
func AtLeastOne(outcomes []Outcome) bool {
	for _, o := range outcomes {
		if o.Err == nil {
			return true
		}
	}
	return false
}

// PolicyByName maps "all" (or "") and "any" to a Policy.
func PolicyByName(name string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "all":
		return AllOf, nil
	case "any":
		return AtLeastOne, nil
	default:
		return nil, fmt.Errorf("unknown relay send policy %q", name)
	}
}

func failures(outcomes []Outcome) []error {
	var out []error
	for _, o := range outcomes {
		if o.Err != nil {
			out = append(out, fmt.Errorf("%s: %w", o.URL, o.Err))
		}
	}
	return out
}

func joinFailures(outcomes []Outcome) error {
	return errors.Join(failures(outcomes)...)
}
