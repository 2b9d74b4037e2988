package contextstore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapperScopeSetGetDelete(t *testing.T) {
	s := New()
	s.Mapper().Set("tedge/measurements/child01", map[string]any{"temperature": 21.5})

	v, ok := s.Mapper().Get("tedge/measurements/child01")
	require.True(t, ok)
	m := v.(map[string]any)
	assert.Equal(t, 21.5, m["temperature"])

	s.Mapper().Set("tedge/measurements/child01", nil)
	_, ok = s.Mapper().Get("tedge/measurements/child01")
	assert.False(t, ok)
}

func TestFlowScopeIsolatedFromMapper(t *testing.T) {
	s := New()
	s.Mapper().Set("k", "mapper-value")
	s.Flow("flow-a").Set("k", "flow-value")

	mv, _ := s.Mapper().Get("k")
	fv, _ := s.Flow("flow-a").Get("k")
	assert.NotEqual(t, mv, fv)
}

func TestScriptScopeBoundToExactKey(t *testing.T) {
	s := New()
	key := ScriptKey{FlowKey: "f1", StepIndex: 2, ScriptPath: "steps/enrich.js"}
	s.Script(key).Set("calls", 1)

	renamed := ScriptKey{FlowKey: "f1", StepIndex: 2, ScriptPath: "steps/enrich-v2.js"}
	_, ok := s.Script(renamed).Get("calls")
	assert.False(t, ok, "renaming the script path must reset the scope")
}

func TestReadsAreDeepCopies(t *testing.T) {
	s := New()
	original := map[string]any{"nested": map[string]any{"n": float64(1)}}
	s.Mapper().Set("k", original)

	v, _ := s.Mapper().Get("k")
	m := v.(map[string]any)
	m["nested"].(map[string]any)["n"] = float64(99)

	v2, _ := s.Mapper().Get("k")
	m2 := v2.(map[string]any)
	assert.Equal(t, float64(1), m2["nested"].(map[string]any)["n"])
}

func TestPersisterRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "context.db")
	p, err := OpenPersister(path)
	require.NoError(t, err)
	defer p.Close()

	require.NoError(t, p.SetKey("tedge/measurements/child01", map[string]any{"temperature": 19.0}))
	require.NoError(t, p.SetKey("tedge/measurements/child02", map[string]any{"temperature": 20.0}))

	loaded, err := p.Load()
	require.NoError(t, err)
	assert.Len(t, loaded, 2)

	require.NoError(t, p.DeleteKey("tedge/measurements/child01"))
	loaded, err = p.Load()
	require.NoError(t, err)
	assert.Len(t, loaded, 1)
}
