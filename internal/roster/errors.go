package roster

import (
	"errors"
	"fmt"
)

// ErrSyncInProgress is returned when a pass is requested while another one
// is still running. The request is skipped, not queued.
var ErrSyncInProgress = errors.New("sync pass already in progress")

// ProviderFetchError reports a failed call to the roster provider's API.
type ProviderFetchError struct {
	Provider  string
	Operation string // e.g. "departments", "users", "token"
	Target    string // department id, if any
	Cause     error
}

func (e *ProviderFetchError) Error() string {
	if e.Target != "" {
		return fmt.Sprintf("%s: fetch %s for %s: %v", e.Provider, e.Operation, e.Target, e.Cause)
	}
	return fmt.Sprintf("%s: fetch %s: %v", e.Provider, e.Operation, e.Cause)
}

func (e *ProviderFetchError) Unwrap() error {
	return e.Cause
}

// MalformedRosterError reports a department graph that is not a single tree.
type MalformedRosterError struct {
	DepartmentID string
	Reason       string
}

func (e *MalformedRosterError) Error() string {
	return fmt.Sprintf("malformed roster at department %q: %s", e.DepartmentID, e.Reason)
}
