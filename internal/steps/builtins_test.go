package steps

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thin-edge/tedge-mapper-core/internal/contextstore"
	"github.com/thin-edge/tedge-mapper-core/pkg/message"
)

func newCtx(cfg map[string]interface{}) Context {
	store := contextstore.New()
	return Context{
		Mapper: store.Mapper(),
		Flow:   store.Flow("f"),
		Script: store.Script(contextstore.ScriptKey{FlowKey: "f"}),
		Config: cfg,
	}
}

func TestAddTimestampUnix(t *testing.T) {
	msg := message.New("t", []byte(`{"a":1}`))
	out, err := AddTimestamp(msg, newCtx(nil))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Contains(t, string(out[0].Payload), `"time":`)
}

func TestAddTimestampNoReformat(t *testing.T) {
	msg := message.New("t", []byte(`{"time":123}`))
	out, err := AddTimestamp(msg, newCtx(map[string]interface{}{"reformat": false}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"time":123}`, string(out[0].Payload))
}

func TestIgnoreTopicsDrops(t *testing.T) {
	msg := message.New("tedge/health/mosquitto", []byte("x"))
	out, err := IgnoreTopics(msg, newCtx(map[string]interface{}{"topics": []interface{}{"tedge/health/#"}}))
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestIgnoreTopicsPassesThrough(t *testing.T) {
	msg := message.New("tedge/measurements", []byte("x"))
	out, err := IgnoreTopics(msg, newCtx(map[string]interface{}{"topics": []interface{}{"tedge/health/#"}}))
	require.NoError(t, err)
	require.Len(t, out, 1)
}

func TestLimitPayloadSizeDrop(t *testing.T) {
	msg := message.New("t", make([]byte, 100))
	out, err := LimitPayloadSize(msg, newCtx(map[string]interface{}{"max_size": 10}))
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestLimitPayloadSizeError(t *testing.T) {
	msg := message.New("t", make([]byte, 100))
	_, err := LimitPayloadSize(msg, newCtx(map[string]interface{}{"max_size": 10, "on_exceed": "error"}))
	assert.Error(t, err)
}

func TestSetTopic(t *testing.T) {
	msg := message.New("old/topic", []byte("x"))
	out, err := SetTopic(msg, newCtx(map[string]interface{}{"topic": "new/topic"}))
	require.NoError(t, err)
	assert.Equal(t, "new/topic", out[0].Topic)
}

func TestUpdateContextStoresAndPassesThrough(t *testing.T) {
	ctx := newCtx(nil)
	msg := message.New("tedge/measurements/child01", []byte(`{"temperature":21}`))
	out, err := UpdateContext(msg, ctx)
	require.NoError(t, err)
	require.Len(t, out, 1)

	v, ok := ctx.Mapper.Get("tedge/measurements/child01")
	require.True(t, ok)
	assert.Equal(t, float64(21), v.(map[string]interface{})["temperature"])
}

func TestUpdateContextEmptyPayloadDeletes(t *testing.T) {
	ctx := newCtx(nil)
	ctx.Mapper.Set("tedge/x", "value")
	_, err := UpdateContext(message.New("tedge/x", nil), ctx)
	require.NoError(t, err)
	_, ok := ctx.Mapper.Get("tedge/x")
	assert.False(t, ok)
}

func TestSkipMosquittoHealthStatus(t *testing.T) {
	out, err := SkipMosquittoHealthStatus(message.New("$SYS/broker/uptime", []byte("x")), newCtx(nil))
	require.NoError(t, err)
	assert.Nil(t, out)

	out, err = SkipMosquittoHealthStatus(message.New("tedge/measurements", []byte("x")), newCtx(nil))
	require.NoError(t, err)
	assert.Len(t, out, 1)
}

func TestIntoC8yMeasurementsDerivesTypeFromTopic(t *testing.T) {
	msg := message.New("te/device/main///m/environment", []byte(`{"time":1700000000,"temperature":29}`))
	out, err := IntoC8yMeasurements(msg, newCtx(map[string]interface{}{"topic_root": "te"}))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.JSONEq(t, `{
		"time": 1700000000,
		"type": "environment",
		"temperature": {"temperature": {"value": 29}}
	}`, string(out[0].Payload))
}

func TestIntoC8yMeasurementsAnnotatesUnitFromContext(t *testing.T) {
	ctx := newCtx(map[string]interface{}{"topic_root": "te"})
	metaMsg := message.New("te/device/main///m//meta", []byte(`{"temperature":{"unit":"°C"}}`))
	_, err := UpdateContext(metaMsg, ctx)
	require.NoError(t, err)

	msg := message.New("te/device/main///m/", []byte(`{"temperature":23}`))
	out, err := IntoC8yMeasurements(msg, ctx)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.JSONEq(t, `{
		"type": "",
		"temperature": {"temperature": {"value": 23, "unit": "°C"}}
	}`, string(out[0].Payload))
}

func TestSetAWSTopic(t *testing.T) {
	msg := message.New("tedge/measurements/child01", []byte("x"))
	out, err := SetAWSTopic(msg, newCtx(nil))
	require.NoError(t, err)
	assert.Equal(t, "$aws/things/child01/shadow/name/default/update", out[0].Topic)
}

func TestCacheEarlyMessagesBuffersUntilRegistered(t *testing.T) {
	ctx := newCtx(map[string]interface{}{"entity_segment": 2})
	msg := message.New("tedge/measurements/child01", []byte("x"))

	out, err := CacheEarlyMessages(msg, ctx)
	require.NoError(t, err)
	assert.Nil(t, out)

	ctx.Mapper.Set("tedge/registered-entities", []interface{}{"child01"})
	out, err = CacheEarlyMessages(msg, ctx)
	require.NoError(t, err)
	require.Len(t, out, 1)
}

func TestRegistryResolvesAllBuiltins(t *testing.T) {
	r := NewRegistry()
	names := []string{
		"add-timestamp", "ignore-topics", "limit-payload-size", "set-topic",
		"update-context", "cache-early-messages", "skip-mosquitto-health-status",
		"into_c8y_measurements", "set-aws-topic",
	}
	for _, n := range names {
		_, ok := r.Resolve(n)
		assert.Truef(t, ok, "builtin %q should be registered", n)
	}
	_, ok := r.Resolve("does-not-exist")
	assert.False(t, ok)
}

func TestBuiltinFuncOnIntervalIsNoOp(t *testing.T) {
	out, err := BuiltinFunc(SetTopic).OnInterval(time.Now(), newCtx(nil))
	require.NoError(t, err)
	assert.Nil(t, out)
}
