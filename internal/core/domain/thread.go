package domain

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const threadPrefix = "user_"

// ThreadID scopes one analysis conversation to one owning identity. Canonical
// form is user_<owner>_<suffix>. The embedded owner is authoritative for
// ownership checks, so it is always taken from the authenticated caller and
// never from client input.
type ThreadID struct {
	owner  string
	suffix string
}

func (t ThreadID) Owner() string  { return t.owner }
func (t ThreadID) Suffix() string { return t.suffix }

func (t ThreadID) String() string {
	return threadPrefix + t.owner + "_" + t.suffix
}

// ResolveThreadID normalizes a caller-supplied identifier against the
// authenticated owner:
//
//   - empty raw input mints a fresh id with a generated suffix
//   - a bare identifier becomes the suffix of a canonical id
//   - an id carrying a different embedded owner is rewritten to the
//     authenticated owner, preserving the suffix
//
// It fails with ErrInvalidThread only when the input cannot be decomposed
// into prefix+owner+suffix after correction, e.g. an empty suffix.
func ResolveThreadID(ownerID, raw string) (ThreadID, error) {
	if strings.TrimSpace(ownerID) == "" {
		return ThreadID{}, WrapError(ErrInvalidThread, "resolve thread", fmt.Errorf("empty owner id"))
	}

	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ThreadID{owner: ownerID, suffix: newSuffix()}, nil
	}

	if !strings.HasPrefix(raw, threadPrefix) {
		return ThreadID{owner: ownerID, suffix: raw}, nil
	}

	if strings.HasPrefix(raw, threadPrefix+ownerID+"_") {
		suffix := strings.TrimPrefix(raw, threadPrefix+ownerID+"_")
		if suffix == "" {
			return ThreadID{}, WrapError(ErrInvalidThread, "resolve thread", fmt.Errorf("empty suffix in %q", raw))
		}
		return ThreadID{owner: ownerID, suffix: suffix}, nil
	}

	// Foreign or malformed owner embedded: keep only the trailing suffix and
	// bind the id to the authenticated owner.
	parts := strings.SplitN(strings.TrimPrefix(raw, threadPrefix), "_", 2)
	if len(parts) < 2 || parts[1] == "" {
		return ThreadID{}, WrapError(ErrInvalidThread, "resolve thread", fmt.Errorf("cannot decompose %q", raw))
	}
	return ThreadID{owner: ownerID, suffix: parts[1]}, nil
}

// ParseThreadID splits a stored canonical id back into owner and suffix.
func ParseThreadID(id string) (ThreadID, error) {
	if !strings.HasPrefix(id, threadPrefix) {
		return ThreadID{}, WrapError(ErrInvalidThread, "parse thread", fmt.Errorf("missing prefix in %q", id))
	}
	parts := strings.SplitN(strings.TrimPrefix(id, threadPrefix), "_", 2)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return ThreadID{}, WrapError(ErrInvalidThread, "parse thread", fmt.Errorf("cannot decompose %q", id))
	}
	return ThreadID{owner: parts[0], suffix: parts[1]}, nil
}

func newSuffix() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}
