package bridge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testResolver() Resolver {
	return NamespaceResolver(
		map[string]interface{}{"device_id": "rpi01", "transport": "mqtt", "shadows": []interface{}{"main", "child01"}},
		map[string]interface{}{"auth_method": "certificate"},
		map[string]interface{}{"name": "c8y"},
	)
}

func TestSubstituteResolvesAllReferences(t *testing.T) {
	out, err := Substitute("c8y/${config.device_id}/measurements", testResolver())
	require.NoError(t, err)
	assert.Equal(t, "c8y/rpi01/measurements", out)
}

func TestSubstituteUnresolvedReferenceErrors(t *testing.T) {
	_, err := Substitute("c8y/${config.missing}/measurements", testResolver())
	assert.Error(t, err)
}

func TestEvalConditionBooleanTruthy(t *testing.T) {
	ok, err := EvalCondition("${config.transport}", &ChainResolver{Resolvers: []Resolver{
		&MapResolver{Namespace: "config", Data: map[string]interface{}{"transport": true}},
	}})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvalConditionEquality(t *testing.T) {
	ok, err := EvalCondition("${config.transport} == mqtt", testResolver())
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = EvalCondition("${config.transport} != mqtt", testResolver())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEvalConditionEmptyIsTrue(t *testing.T) {
	ok, err := EvalCondition("", testResolver())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestExpandTemplateFromLiteralArray(t *testing.T) {
	tmpl := TemplateRule{
		Topic: "shadow/${item}/update",
		For:   []interface{}{"main", "child01"},
	}
	rules, err := expandTemplate(tmpl, testResolver())
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, "shadow/main/update", rules[0].Topic)
	assert.Equal(t, "shadow/child01/update", rules[1].Topic)
}

func TestExpandTemplateFromConfigReference(t *testing.T) {
	tmpl := TemplateRule{
		Topic: "shadow/${item}/update",
		For:   "${config.shadows}",
	}
	rules, err := expandTemplate(tmpl, testResolver())
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, "shadow/child01/update", rules[1].Topic)
}

func TestExpandTemplateExceedsIterationLimit(t *testing.T) {
	items := make([]interface{}, maxTemplateIter+1)
	for i := range items {
		items[i] = "x"
	}
	tmpl := TemplateRule{Topic: "t/${item}", For: items}
	_, err := expandTemplate(tmpl, testResolver())
	assert.Error(t, err)
}

func TestCompileSimpleRule(t *testing.T) {
	file := &File{
		LocalPrefix:  "tedge/",
		RemotePrefix: "c8y/",
		Rule: []Rule{
			{Topic: "measurements/#", Direction: DirectionOutbound},
		},
	}
	table, err := Compile(file, testResolver())
	require.NoError(t, err)
	require.Len(t, table.Entries, 1)
	assert.Equal(t, "tedge/measurements/#", table.Entries[0].LocalTopicFilter)
	assert.Equal(t, "c8y/measurements/#", table.Entries[0].RemoteTopicFilter)
}

func TestCompileDropsRuleOnFalseIf(t *testing.T) {
	file := &File{
		Rule: []Rule{
			{Topic: "t", If: "${config.transport} == http"},
		},
	}
	table, err := Compile(file, testResolver())
	require.NoError(t, err)
	assert.Empty(t, table.Entries)
}

func TestCompileTemplateRuleExpands(t *testing.T) {
	file := &File{
		LocalPrefix:  "tedge/",
		RemotePrefix: "c8y/",
		TemplateRule: []TemplateRule{
			{Topic: "shadow/${item}/update", For: "${config.shadows}"},
		},
	}
	table, err := Compile(file, testResolver())
	require.NoError(t, err)
	require.Len(t, table.Entries, 2)
}

func TestForwardingTableInspectDebugShowsDropped(t *testing.T) {
	file := &File{
		Rule: []Rule{
			{Topic: "t", If: "${config.transport} == http"},
		},
	}
	table, err := Compile(file, testResolver())
	require.NoError(t, err)

	entries, dropped := table.Inspect(false)
	assert.Empty(t, entries)
	assert.Nil(t, dropped)

	entries, dropped = table.Inspect(true)
	assert.Empty(t, entries)
	require.Len(t, dropped, 1)
	assert.Contains(t, dropped[0].Reason, "if was false")
}

func TestForwardingTableTestMatchesAndNoMatch(t *testing.T) {
	file := &File{
		LocalPrefix:  "tedge/",
		RemotePrefix: "c8y/",
		Rule: []Rule{
			{Topic: "measurements/#", Direction: DirectionOutbound},
		},
	}
	table, err := Compile(file, testResolver())
	require.NoError(t, err)

	matches, err := table.Test("tedge/measurements/child01")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, DirectionOutbound, matches[0].Direction)

	_, err = table.Test("tedge/other/topic")
	assert.ErrorIs(t, err, ErrNoMatch)
}

func TestForwardingTableTestRejectsWildcard(t *testing.T) {
	file := &File{Rule: []Rule{{Topic: "a/#"}}}
	table, err := Compile(file, testResolver())
	require.NoError(t, err)

	_, err = table.Test("a/+")
	assert.ErrorIs(t, err, ErrWildcardTopic)
}
