package ldap

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// ErrorCategory represents different categories of directory errors.
type ErrorCategory string

const (
	ErrorCategoryMalformedDN        ErrorCategory = "malformed_dn"
	ErrorCategoryInvalidCredentials ErrorCategory = "invalid_credentials"
	ErrorCategoryInsufficientAccess ErrorCategory = "insufficient_access"
	ErrorCategoryUnavailable        ErrorCategory = "unavailable"
	ErrorCategoryUnknown            ErrorCategory = "unknown"
)

// Sentinels for errors.Is matching against a *DirectoryError.
var (
	ErrMalformedDN        = errors.New("malformed distinguished name")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInsufficientAccess = errors.New("insufficient access rights")
	ErrUnavailable        = errors.New("directory backend unavailable")

	// ErrEntryFrozen is returned when a published entry is mutated.
	ErrEntryFrozen = errors.New("entry is part of a published snapshot and cannot be modified")
)

// DirectoryError is the outcome of a failed bind, search or modify. It is
// surfaced to the protocol boundary as a result code, never as a crash.
type DirectoryError struct {
	Operation  string        // The operation that failed
	Category   ErrorCategory // Error category
	ResultCode uint16        // LDAP result code
	Message    string        // Human-readable message
	DN         string        // DN involved in the operation (if applicable)
	Cause      error         // Underlying error
}

func (e *DirectoryError) Error() string {
	parts := []string{fmt.Sprintf("LDAP %s failed (code %d)", e.Operation, e.ResultCode)}

	if e.Message != "" {
		parts = append(parts, e.Message)
	}

	if e.DN != "" {
		parts = append(parts, fmt.Sprintf("DN: %s", e.DN))
	}

	if e.Cause != nil && e.Cause.Error() != e.Message {
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, " - ")
}

func (e *DirectoryError) Unwrap() error {
	return e.Cause
}

// Is matches the category sentinels so callers can use errors.Is.
func (e *DirectoryError) Is(target error) bool {
	switch target {
	case ErrMalformedDN:
		return e.Category == ErrorCategoryMalformedDN
	case ErrInvalidCredentials:
		return e.Category == ErrorCategoryInvalidCredentials
	case ErrInsufficientAccess:
		return e.Category == ErrorCategoryInsufficientAccess
	case ErrUnavailable:
		return e.Category == ErrorCategoryUnavailable
	}
	return false
}

// NewMalformedDNError reports an unparseable distinguished name.
func NewMalformedDNError(dn string, cause error) *DirectoryError {
	return &DirectoryError{
		Operation:  "parse",
		Category:   ErrorCategoryMalformedDN,
		ResultCode: ldap.LDAPResultInvalidDNSyntax,
		Message:    getResultCodeMessage(ldap.LDAPResultInvalidDNSyntax),
		DN:         dn,
		Cause:      cause,
	}
}

// NewInvalidCredentialsError deliberately carries no detail about which part
// of the bind failed.
func NewInvalidCredentialsError(dn string) *DirectoryError {
	return &DirectoryError{
		Operation:  "bind",
		Category:   ErrorCategoryInvalidCredentials,
		ResultCode: ldap.LDAPResultInvalidCredentials,
		Message:    getResultCodeMessage(ldap.LDAPResultInvalidCredentials),
		DN:         dn,
	}
}

// NewInsufficientAccessError reports a caller lacking rights for operation.
func NewInsufficientAccessError(operation, dn string) *DirectoryError {
	return &DirectoryError{
		Operation:  operation,
		Category:   ErrorCategoryInsufficientAccess,
		ResultCode: ldap.LDAPResultInsufficientAccessRights,
		Message:    getResultCodeMessage(ldap.LDAPResultInsufficientAccessRights),
		DN:         dn,
	}
}

// NewUnavailableError wraps a credential store failure.
func NewUnavailableError(operation, dn string, cause error) *DirectoryError {
	return &DirectoryError{
		Operation:  operation,
		Category:   ErrorCategoryUnavailable,
		ResultCode: ldap.LDAPResultUnavailable,
		Message:    getResultCodeMessage(ldap.LDAPResultUnavailable),
		DN:         dn,
		Cause:      cause,
	}
}

// WrapError attaches operation context to a parse failure or passes a
// *DirectoryError through unchanged.
func WrapError(operation string, err error) error {
	if err == nil {
		return nil
	}

	var dirErr *DirectoryError
	if errors.As(err, &dirErr) {
		if dirErr.Operation == "" || dirErr.Operation == "parse" {
			dirErr.Operation = operation
		}
		return dirErr
	}

	return &DirectoryError{
		Operation:  operation,
		Category:   ErrorCategoryUnknown,
		ResultCode: ldap.LDAPResultOperationsError,
		Message:    err.Error(),
		Cause:      err,
	}
}

// GetErrorCategory returns the category of an error.
func GetErrorCategory(err error) ErrorCategory {
	var dirErr *DirectoryError
	if errors.As(err, &dirErr) {
		return dirErr.Category
	}
	return ErrorCategoryUnknown
}

// ResultCodeOf maps any error to the LDAP result code reported to clients.
func ResultCodeOf(err error) uint16 {
	if err == nil {
		return ldap.LDAPResultSuccess
	}

	var dirErr *DirectoryError
	if errors.As(err, &dirErr) {
		return dirErr.ResultCode
	}
	return ldap.LDAPResultOperationsError
}

// getResultCodeMessage returns a human-readable message for the codes this
// service produces.
func getResultCodeMessage(code uint16) string {
	switch code {
	case ldap.LDAPResultSuccess:
		return "Operation completed successfully"
	case ldap.LDAPResultOperationsError:
		return "LDAP operations error"
	case ldap.LDAPResultInvalidDNSyntax:
		return "Invalid DN syntax"
	case ldap.LDAPResultInvalidCredentials:
		return "Invalid credentials"
	case ldap.LDAPResultInsufficientAccessRights:
		return "Insufficient access rights"
	case ldap.LDAPResultUnavailable:
		return "Server is unavailable"
	default:
		return fmt.Sprintf("Unknown LDAP error (code %d)", code)
	}
}
