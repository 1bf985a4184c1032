package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestCheck(t *testing.T) {
	path := writeConfig(t, `
rules:
  "10.0.0.1":
    - pattern: 'a\.com'
      answer: 1.2.3.4
    - pattern: '*.b.com'
      answer: do_nothing
`)
	out, err := run(t, "check", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "10.0.0.1")
	assert.Contains(t, out, "2 rules")
	assert.Contains(t, out, "ok (1 clients)")
}

func TestCheckRejectsBadRule(t *testing.T) {
	path := writeConfig(t, `
rules:
  "10.0.0.1":
    - pattern: '('
      answer: 1.2.3.4
`)
	_, err := run(t, "check", "-c", path)
	assert.Error(t, err)
}

func TestHashPassword(t *testing.T) {
	out, err := run(t, "hash-password", "--cost", "4", "s3cret")
	require.NoError(t, err)

	var hash string
	for _, line := range strings.Split(out, "\n") {
		if strings.Contains(line, "password_hash:") {
			hash = strings.Trim(strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "password_hash:")), `"`)
		}
	}
	require.NotEmpty(t, hash)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("s3cret")))

	_, err = run(t, "hash-password", "--cost", "99", "x")
	assert.Error(t, err)
	_, err = run(t, "hash-password")
	assert.Error(t, err)
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "blackhole dev")
}
