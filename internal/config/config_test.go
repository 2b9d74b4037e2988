package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvConfigGetString(t *testing.T) {
	os.Setenv("TEDGE_TEST_FOO", "bar")
	defer os.Unsetenv("TEDGE_TEST_FOO")

	ec := NewEnvConfig("tedge_test")
	assert.Equal(t, "bar", ec.GetString("foo", "default"))
	assert.Equal(t, "default", ec.GetString("missing", "default"))
}

func TestEnvConfigMustGetStringMissing(t *testing.T) {
	ec := NewEnvConfig("tedge_test")
	_, err := ec.MustGetString("does_not_exist")
	require.Error(t, err)
}

func TestValidatorAccumulates(t *testing.T) {
	v := &Validator{}
	v.RequireString("name", "")
	v.RequirePositiveInt("count", -1)
	v.RequireOneOf("level", "trace", "debug", "info")

	assert.False(t, v.IsValid())
	assert.Len(t, v.Errors(), 3)
	require.Error(t, v.Err())
}

func TestLoadTOML(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "*.toml")
	require.NoError(t, err)
	_, err = f.WriteString("name = \"demo\"\ninterval = \"5s\"\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	type doc struct {
		Name     string `toml:"name"`
		Interval string `toml:"interval"`
	}

	out, err := LoadTOML[doc](f.Name())
	require.NoError(t, err)
	assert.Equal(t, "demo", out.Name)

	d, err := time.ParseDuration(out.Interval)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, d)
}

func TestMapperConfigValidate(t *testing.T) {
	c := DefaultMapperConfig()
	assert.NoError(t, c.Validate())

	c.MQTTBroker = ""
	assert.Error(t, c.Validate())
}
