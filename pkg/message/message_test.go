package message

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopicMatches(t *testing.T) {
	cases := []struct {
		filter, topic string
		want          bool
	}{
		{"tedge/#", "tedge/measurements/child01", true},
		{"tedge/+/child01", "tedge/measurements/child01", true},
		{"tedge/+/child01", "tedge/measurements/child02", false},
		{"tedge/measurements", "tedge/measurements", true},
		{"tedge/measurements", "tedge/measurements/extra", false},
		{"#", "anything/goes/here", true},
		{"c8y/s/us", "c8y/s/ds", false},
	}

	for _, c := range cases {
		assert.Equalf(t, c.want, TopicMatches(c.filter, c.topic), "filter=%q topic=%q", c.filter, c.topic)
	}
}

func TestMessageCloneIsIndependent(t *testing.T) {
	m := New("tedge/measurements", []byte("{}"))
	m = m.WithHeader("flow", "add-timestamp")

	clone := m.Clone()
	clone.Payload[0] = 'X'
	clone = clone.WithHeader("flow", "other")

	require.NotEqual(t, string(m.Payload), string(clone.Payload))
	v, _ := m.Header("flow")
	assert.Equal(t, "add-timestamp", v)
}

func TestTopicDepth(t *testing.T) {
	assert.Equal(t, 0, TopicDepth(""))
	assert.Equal(t, 1, TopicDepth("tedge"))
	assert.Equal(t, 3, TopicDepth("tedge/measurements/child01"))
}
