package bot

import (
	"fmt"
	"strconv"
	"strings"
)

const maxRunsLimit = 50

// PurgeTarget holds the parsed argument of /purge.
type PurgeTarget struct {
	Value  string
	RawKey bool
}

// ParseSubjectArg extracts a subject ID from a command argument string.
func ParseSubjectArg(args string) (string, error) {
	parts := strings.Fields(args)
	if len(parts) == 0 {
		return "", fmt.Errorf("subject ID is required")
	}
	return parts[0], nil
}

// ParseRunsArgs parses arguments for /runs.
// Format: [subject_id] [limit]
func ParseRunsArgs(args string) (string, int, error) {
	parts := strings.Fields(args)
	var (
		subjectID string
		limit     int
	)
	switch len(parts) {
	case 0:
	case 1:
		if n, err := strconv.Atoi(parts[0]); err == nil {
			limit = n
		} else {
			subjectID = parts[0]
		}
	case 2:
		n, err := strconv.Atoi(parts[1])
		if err != nil {
			return "", 0, fmt.Errorf("invalid limit %q", parts[1])
		}
		subjectID, limit = parts[0], n
	default:
		return "", 0, fmt.Errorf("usage: /runs [id] [limit]")
	}
	if limit < 0 || limit > maxRunsLimit {
		return "", 0, fmt.Errorf("limit must be between 0 and %d", maxRunsLimit)
	}
	return subjectID, limit, nil
}

// ParsePurgeArgs parses arguments for /purge.
// Format: <subject_id> | -k <subject_key...>
func ParsePurgeArgs(args string) (PurgeTarget, error) {
	parts := strings.Fields(args)
	if len(parts) == 0 {
		return PurgeTarget{}, fmt.Errorf("usage: /purge <id> or /purge -k <subject_key>")
	}
	if parts[0] != "-k" {
		return PurgeTarget{Value: parts[0]}, nil
	}
	// Keys may contain spaces when the subject does.
	key := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(args), "-k"))
	if key == "" {
		return PurgeTarget{}, fmt.Errorf("subject key is required")
	}
	return PurgeTarget{Value: key, RawKey: true}, nil
}
