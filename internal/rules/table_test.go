package rules

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mockdriver/pkg/model"
	"mockdriver/pkg/traffic"
)

func setRule(id model.RuleID, priority int, prefix, name, value string) model.CompiledRule {
	return model.CompiledRule{
		ID:       id,
		Priority: priority,
		Condition: model.RuleCondition{
			URLPrefix:     prefix,
			Methods:       []string{"post"},
			ResourceTypes: DefaultResourceTypes,
		},
		Operations: []model.HeaderOperation{{Name: name, Operation: OperationSet, Value: value}},
	}
}

func TestRuleTableReplace(t *testing.T) {
	table := NewRuleTable()
	ctx := context.Background()

	require.NoError(t, table.Replace(ctx, nil, []model.CompiledRule{setRule(1, 1, "https://a", "x-a", "1")}))
	ids, err := table.ListInstalled(ctx)
	require.NoError(t, err)
	assert.Equal(t, []model.RuleID{1}, ids)

	require.NoError(t, table.Replace(ctx, []model.RuleID{1}, []model.CompiledRule{setRule(1, 1, "https://b", "x-b", "2")}))
	rules := table.Rules()
	require.Len(t, rules, 1)
	assert.Equal(t, "https://b", rules[0].Condition.URLPrefix)
}

func TestRuleTableReplaceRejectsCollision(t *testing.T) {
	table := NewRuleTable()
	ctx := context.Background()
	require.NoError(t, table.Replace(ctx, nil, []model.CompiledRule{setRule(1, 1, "https://a", "x-a", "1")}))

	err := table.Replace(ctx, nil, []model.CompiledRule{setRule(2, 1, "https://c", "x-c", "3"), setRule(1, 1, "https://b", "x-b", "2")})
	require.Error(t, err)
	rules := table.Rules()
	require.Len(t, rules, 1, "failed replacement leaves the table untouched")
	assert.Equal(t, "https://a", rules[0].Condition.URLPrefix)
}

func TestRuleTableEvaluate(t *testing.T) {
	table := NewRuleTable()
	require.NoError(t, table.Replace(context.Background(), nil, []model.CompiledRule{
		setRule(2, 2, "https://api.example.com/", "x-ov-mock", "high"),
		setRule(1, 1, "https://api.example.com/graphql", "x-ov-mock", "low"),
		setRule(3, 1, "https://other.example.com/", "x-other", "nope"),
	}))

	req := &traffic.Request{URL: "https://api.example.com/graphql", Method: "POST", ResourceType: "XHR"}
	d := table.Evaluate(req)
	require.True(t, d.Inject)
	assert.Equal(t, traffic.Header{"x-ov-mock": "high"}, d.Headers)
	assert.Equal(t, []model.RuleID{1, 2}, d.Rules)

	script := &traffic.Request{URL: "https://api.example.com/app.js", Method: "POST", ResourceType: "Script"}
	assert.False(t, table.Evaluate(script).Inject)

	doc := &traffic.Request{URL: "https://api.example.com/graphql", Method: "post", ResourceType: "Document"}
	assert.True(t, table.Evaluate(doc).Inject)
}

func TestResourceType(t *testing.T) {
	tests := map[string]string{
		"Document":   "main_frame",
		"XHR":        "xmlhttprequest",
		"Fetch":      "xmlhttprequest",
		"Stylesheet": "stylesheet",
		"WebSocket":  "websocket",
		"Preflight":  "other",
		"":           "other",
	}
	for in, want := range tests {
		assert.Equal(t, want, ResourceType(in), in)
	}
}
