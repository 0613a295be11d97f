package app

import "fmt"

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

// authorizationDenied is returned before any storage call is attempted; a
// denied action must never reach the storage collaborator.
func authorizationDenied(action string) *DomainError {
	return domainError(403, "AUTHORIZATION_DENIED", "Not permitted", map[string]any{"action": action})
}
