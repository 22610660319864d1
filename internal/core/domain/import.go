package domain

import (
	"fmt"
	"strings"
)

// ErrImportViolation is returned when an import payload does not conform to
// the import JSON schema. The Errors field carries machine-readable details.
type ErrImportViolation struct {
	Errors []string
}

func (e *ErrImportViolation) Error() string {
	return fmt.Sprintf("import validation failed: %s", strings.Join(e.Errors, "; "))
}
