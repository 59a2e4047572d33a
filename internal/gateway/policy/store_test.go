package policy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func viewRule(id string) []Rule {
	return []Rule{{ID: id, Effect: EffectAllow, Priority: 1, Actions: []string{"teleop:view"}}}
}

func TestStore_CreateGetRoundTrip(t *testing.T) {
	s := NewStore(0)

	created, err := s.Create("p1", "policy one", viewRule("r1"))
	require.NoError(t, err)
	assert.Equal(t, 1, created.Version)
	assert.NotEmpty(t, created.Hash)

	got, err := s.Get("p1")
	require.NoError(t, err)
	assert.Equal(t, created.Hash, got.Hash)
	assert.Equal(t, created.Rules, got.Rules)
}

func TestStore_Create_Duplicate(t *testing.T) {
	s := NewStore(0)
	_, err := s.Create("p1", "one", viewRule("r1"))
	require.NoError(t, err)

	_, err = s.Create("p1", "again", viewRule("r1"))
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestStore_Create_CapacityCap(t *testing.T) {
	s := NewStore(2)
	_, err := s.Create("p1", "one", viewRule("r1"))
	require.NoError(t, err)
	_, err = s.Create("p2", "two", viewRule("r1"))
	require.NoError(t, err)

	_, err = s.Create("p3", "three", viewRule("r1"))
	assert.ErrorIs(t, err, ErrStoreFull)
}

func TestStore_Update_VersionsAndHistory(t *testing.T) {
	s := NewStore(0)
	v1, err := s.Create("p1", "one", viewRule("r1"))
	require.NoError(t, err)

	v2, err := s.Update("p1", []Rule{{
		ID: "r2", Effect: EffectDeny, Priority: 1, Actions: []string{"teleop:control"},
	}})
	require.NoError(t, err)

	assert.Equal(t, 2, v2.Version)
	assert.NotEqual(t, v1.Hash, v2.Hash)

	hist, err := s.GetVersionHistory("p1")
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, 1, hist[0].Version)
	assert.Equal(t, v1.Hash, hist[0].Hash)

	old, err := s.GetByVersion("p1", 1)
	require.NoError(t, err)
	assert.Equal(t, v1.Hash, old.Hash)

	cur, err := s.GetByVersion("p1", 2)
	require.NoError(t, err)
	assert.Equal(t, v2.Hash, cur.Hash)
}

func TestStore_Delete(t *testing.T) {
	s := NewStore(0)
	_, err := s.Create("p1", "one", viewRule("r1"))
	require.NoError(t, err)

	require.NoError(t, s.Delete("p1"))
	_, err = s.Get("p1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Delete("p1"), ErrNotFound)
}

func TestStore_Validation(t *testing.T) {
	s := NewStore(0)

	_, err := s.Create("p1", "one", []Rule{{ID: "r1", Effect: "maybe", Priority: 1, Actions: []string{"a:b"}}})
	assert.Error(t, err)

	_, err = s.Create("p1", "one", []Rule{{ID: "r1", Effect: EffectAllow, Priority: 1}})
	assert.Error(t, err, "empty action set must be rejected")
}

func TestComputeHash_StableAcrossEquivalentRules(t *testing.T) {
	rules := viewRule("r1")
	h1, err := ComputeHash(rules)
	require.NoError(t, err)
	h2, err := ComputeHash(viewRule("r1"))
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	h3, err := ComputeHash(viewRule("r2"))
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)
}

func TestLoadFile_InstallsPolicies(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policies.yaml")
	content := `policies:
  - id: teleop
    name: Teleop access
    rules:
      - id: allow-operator
        effect: allow
        priority: 10
        actions: [teleop:view, teleop:control]
        conditions:
          - field: role
            operator: eq
            value: operator
      - id: deny-maintenance
        effect: deny
        priority: 1
        actions: [teleop:control]
        conditions:
          - field: context.resource
            operator: eq
            value: robot-maintenance
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	s := NewStore(0)
	ids, err := LoadFile(s, path)
	require.NoError(t, err)
	assert.Equal(t, []string{"teleop"}, ids)

	p, err := s.Get("teleop")
	require.NoError(t, err)
	require.Len(t, p.Rules, 2)

	res := Evaluate(p, map[string]any{
		"role":    "operator",
		"context": map[string]any{"resource": "robot-1"},
	}, []string{"teleop:control"})
	assert.Equal(t, DecisionAllow, res.Decision)
}

func TestLoadFile_RejectsMalformedActions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policies.yaml")
	content := `policies:
  - id: broken
    name: bad actions
    rules:
      - id: r1
        effect: allow
        priority: 1
        actions: ["Teleop:Control"]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	_, err := LoadFile(NewStore(0), path)
	assert.Error(t, err)
}
