package lifecycle

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thin-edge/tedge-mapper-core/pkg/message"
)

func TestResolveDir(t *testing.T) {
	assert.Equal(t, "/etc/tedge/mappers/c8y", ResolveDir("c8y", ""))
	assert.Equal(t, "/etc/tedge/mappers/c8y.staging", ResolveDir("c8y", "staging"))
}

func TestServiceIdentityWithAndWithoutProfile(t *testing.T) {
	id := NewServiceIdentity("c8y", "")
	assert.Equal(t, "tedge-mapper-c8y", id.Name)
	assert.Equal(t, "te/device/main/service/tedge-mapper-c8y/status/health", id.HealthTopic)
	assert.Equal(t, "/run/tedge-mapper-c8y.lock", id.LockPath)
	assert.Equal(t, "tedge-mapper-bridge-c8y", id.BridgeName)

	idProfile := NewServiceIdentity("c8y", "staging")
	assert.Equal(t, "tedge-mapper-c8y@staging", idProfile.Name)
	assert.Equal(t, "tedge-mapper-bridge-c8y@staging", idProfile.BridgeName)
}

func TestClassifyExampleScenario(t *testing.T) {
	entries := []string{"c8y", "c8y.staging", "custom.thingsboard", "thingboard"}
	classified := Classify(entries)

	byName := make(map[string]Kind)
	for _, c := range classified {
		byName[c.Entry] = c.Kind
	}
	assert.Equal(t, KindBuiltIn, byName["c8y"])
	assert.Equal(t, KindProfileOfBuiltIn, byName["c8y.staging"])
	assert.Equal(t, KindCustom, byName["custom.thingsboard"])
	assert.Equal(t, KindUnrecognised, byName["thingboard"])

	unrec := Unrecognised(classified)
	require.Len(t, unrec, 1)
	assert.Equal(t, "thingboard", unrec[0])
}

func TestAcquireLockRejectsSecondHolder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mapper.lock")

	lock, err := AcquireLock(path)
	require.NoError(t, err)
	defer lock.Release()

	_, err = AcquireLock(path)
	var locked *ErrLocked
	require.ErrorAs(t, err, &locked)
	assert.Equal(t, path, locked.Path)
}

func TestAcquireLockCanBeReacquiredAfterRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mapper.lock")

	lock, err := AcquireLock(path)
	require.NoError(t, err)
	require.NoError(t, lock.Release())

	lock2, err := AcquireLock(path)
	require.NoError(t, err)
	require.NoError(t, lock2.Release())
}

func TestScanLayoutBridgeWithoutTedgeTOMLIsFatal(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "bridge"), 0o755))

	_, err := ScanLayout(dir)
	assert.Error(t, err)
}

func TestScanLayoutParsesTedgeTOML(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "bridge"), 0o755))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "flows"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tedge.toml"), []byte(`
[c8y]
url = "example.com"
`), 0o644))

	layout, err := ScanLayout(dir)
	require.NoError(t, err)
	assert.True(t, layout.HasTedgeTOML)
	assert.True(t, layout.HasBridgeDir)
	assert.True(t, layout.HasFlowsDir)
	require.NotNil(t, layout.TedgeTOML["c8y"])
}

type capturingPublisher struct {
	mu  sync.Mutex
	got []message.Message
}

func (c *capturingPublisher) Publish(_ context.Context, msg message.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, msg)
	return nil
}

func TestPublishHealthMarksRetainedStatus(t *testing.T) {
	pub := &capturingPublisher{}
	require.NoError(t, PublishHealth(context.Background(), pub, "te/device/main/service/x/status/health", "up"))

	require.Len(t, pub.got, 1)
	assert.True(t, pub.got[0].Retained)
	assert.Contains(t, string(pub.got[0].Payload), `"status":"up"`)
}
