package validation

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/datasync-io/datasync/internal/errors"
)

const (
	MaxDatabaseNameSize = 128
	MaxStatementSize    = 1024 * 1024 // 1 MB

	MinWriteTimeout = 10 * time.Millisecond
	MaxWriteTimeout = 5 * time.Minute
)

// Validator checks the inputs crossing the public database surface before
// any of them reach the engine or the channel
type Validator struct {
	maxNameSize      int
	maxStatementSize int
}

// NewValidator creates a validator with default limits
func NewValidator() *Validator {
	return &Validator{
		maxNameSize:      MaxDatabaseNameSize,
		maxStatementSize: MaxStatementSize,
	}
}

// NewValidatorWithLimits creates a validator with custom limits
func NewValidatorWithLimits(maxNameSize, maxStatementSize int) *Validator {
	return &Validator{
		maxNameSize:      maxNameSize,
		maxStatementSize: maxStatementSize,
	}
}

// ValidateDatabaseName checks a database name. Names become file paths and
// channel topics, so the charset is deliberately narrow.
func (v *Validator) ValidateDatabaseName(name string) error {
	if name == "" {
		return errors.InvalidName(name, "database name cannot be empty")
	}
	if len(name) > v.maxNameSize {
		return errors.InvalidName(name, fmt.Sprintf("database name exceeds maximum size of %d bytes", v.maxNameSize))
	}

	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '_' || r == '.':
		default:
			return errors.InvalidName(name, fmt.Sprintf("database name contains forbidden character %q", r))
		}
	}

	// Dot-only names and leading dots would escape or hide the data file
	if strings.Trim(name, ".") == "" || strings.HasPrefix(name, ".") {
		return errors.InvalidName(name, "database name cannot start with '.'")
	}
	if strings.Contains(name, "..") {
		return errors.InvalidName(name, "database name cannot contain '..'")
	}

	return nil
}

// ValidateStatement checks a SQL statement before routing
func (v *Validator) ValidateStatement(sql string) error {
	if strings.TrimSpace(sql) == "" {
		return errors.InvalidStatement("statement cannot be empty")
	}
	if len(sql) > v.maxStatementSize {
		return errors.InvalidStatement(fmt.Sprintf("statement exceeds maximum size of %d bytes", v.maxStatementSize))
	}
	if strings.Contains(sql, "\x00") {
		return errors.InvalidStatement("statement cannot contain null bytes")
	}
	return nil
}

// ValidateTimeout checks a caller-supplied forward timeout
func (v *Validator) ValidateTimeout(timeout time.Duration) error {
	if timeout < MinWriteTimeout {
		return errors.InvalidTimeout(timeout, fmt.Sprintf("timeout below minimum of %s", MinWriteTimeout))
	}
	if timeout > MaxWriteTimeout {
		return errors.InvalidTimeout(timeout, fmt.Sprintf("timeout above maximum of %s", MaxWriteTimeout))
	}
	return nil
}

// SanitizeDatabaseName strips characters the validator would reject. Useful
// for deriving names from user input; the result still goes through
// ValidateDatabaseName.
func SanitizeDatabaseName(name string) string {
	sanitized := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		case unicode.IsSpace(r):
			return '_'
		default:
			return -1
		}
	}, strings.TrimSpace(name))

	sanitized = strings.TrimLeft(sanitized, ".")
	if len(sanitized) > MaxDatabaseNameSize {
		sanitized = sanitized[:MaxDatabaseNameSize]
	}
	return sanitized
}
