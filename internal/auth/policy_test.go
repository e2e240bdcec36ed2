package auth

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPolicyCoversResources(t *testing.T) {
	p := DefaultPolicy()
	for _, name := range []string{
		"auth.me", "users.create", "audit.list",
		"employees.read", "departments.list", "payroll.read",
		"leave.create", "attendance.read", "training.enroll",
	} {
		_, ok := p.Rule(name)
		assert.True(t, ok, "missing endpoint %s", name)
	}

	payroll, _ := p.Rule("payroll.read")
	assert.True(t, payroll.NeedsOwnership(RoleEmployee))
	assert.False(t, payroll.NeedsOwnership(RoleHR))
	assert.False(t, payroll.Allows(RoleManager))

	create, _ := p.Rule("users.create")
	assert.False(t, create.Allows(RoleEmployee))
}

func TestLoadPolicyNormalizesRoles(t *testing.T) {
	p, err := LoadPolicy(strings.NewReader(`
endpoints:
  x.read:
    roles: [admin, Hr, ADMIN]
    ownership:
      bypass: [admin]
`))
	require.NoError(t, err)
	rule, ok := p.Rule("x.read")
	require.True(t, ok)
	assert.Equal(t, []Role{RoleAdmin, RoleHR}, rule.Roles)
	assert.Equal(t, []Role{RoleAdmin}, rule.Ownership.Bypass)
	assert.Equal(t, []string{"x.read"}, p.Endpoints())
}

func TestLoadPolicyRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"empty":         `endpoints: {}`,
		"unknown role":  "endpoints:\n  a:\n    roles: [OWNER]\n",
		"no roles":      "endpoints:\n  a:\n    roles: []\n",
		"unknown field": "endpoints:\n  a:\n    roles: [HR]\n    owner: true\n",
		"bad bypass":    "endpoints:\n  a:\n    roles: [HR]\n    ownership:\n      bypass: [CEO]\n",
	}
	for name, doc := range cases {
		_, err := LoadPolicy(strings.NewReader(doc))
		assert.Error(t, err, name)
	}
}

func TestLoadPolicyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("endpoints:\n  a.b:\n    roles: [MANAGER]\n"), 0o600))
	p, err := LoadPolicyFile(path)
	require.NoError(t, err)
	rule, ok := p.Rule("a.b")
	require.True(t, ok)
	assert.True(t, rule.Allows(RoleManager))

	_, err = LoadPolicyFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
