package validation

import (
	"strings"
	"testing"
	"time"

	"github.com/datasync-io/datasync/internal/errors"
	"github.com/stretchr/testify/assert"
)

func TestValidateDatabaseName(t *testing.T) {
	v := NewValidator()

	valid := []string{"app", "app.db", "my-app_2", "A.b-C_d"}
	for _, name := range valid {
		assert.NoError(t, v.ValidateDatabaseName(name), name)
	}

	invalid := []string{
		"",
		".hidden",
		"..",
		"a..b",
		"has space",
		"path/sep",
		"null\x00byte",
		strings.Repeat("x", MaxDatabaseNameSize+1),
	}
	for _, name := range invalid {
		err := v.ValidateDatabaseName(name)
		assert.Error(t, err, name)
		assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidName), name)
	}
}

func TestValidateStatement(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidateStatement("SELECT 1"))
	assert.Error(t, v.ValidateStatement(""))
	assert.Error(t, v.ValidateStatement("   \n\t "))
	assert.Error(t, v.ValidateStatement("SELECT\x001"))

	long := "SELECT '" + strings.Repeat("x", MaxStatementSize) + "'"
	err := v.ValidateStatement(long)
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidStatement))
}

func TestValidateTimeout(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidateTimeout(5*time.Second))
	assert.NoError(t, v.ValidateTimeout(MinWriteTimeout))
	assert.NoError(t, v.ValidateTimeout(MaxWriteTimeout))

	assert.True(t, errors.HasCode(v.ValidateTimeout(time.Millisecond), errors.ErrCodeInvalidTimeout))
	assert.True(t, errors.HasCode(v.ValidateTimeout(time.Hour), errors.ErrCodeInvalidTimeout))
	assert.True(t, errors.HasCode(v.ValidateTimeout(-time.Second), errors.ErrCodeInvalidTimeout))
}

func TestSanitizeDatabaseName(t *testing.T) {
	v := NewValidator()

	cases := map[string]string{
		"my app":       "my_app",
		"  app.db  ":   "app.db",
		"..app":        "app",
		"a/b\\c":       "abc",
		"café-db": "caf-db",
	}
	for in, want := range cases {
		got := SanitizeDatabaseName(in)
		assert.Equal(t, want, got, in)
		assert.NoError(t, v.ValidateDatabaseName(got), in)
	}
}
