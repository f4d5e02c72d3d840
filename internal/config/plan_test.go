package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePlan_Steps(t *testing.T) {
	req, err := ParsePlan([]byte(`
description: quarterly report
payload:
  quarter: Q3
steps:
  - id: gather
    capability: research
    input:
      query: revenue by region
  - id: summarise
    capability: execute
    depends_on: [gather]
  - id: notify
    capability: communicate
    depends_on: [summarise]
    input:
      to: [ops@example.com]
      1: numeric key
`))
	require.NoError(t, err)

	assert.Equal(t, "quarterly report", req.Description)
	assert.JSONEq(t, `{"quarter":"Q3"}`, string(req.Payload))
	require.Len(t, req.Plan, 3)
	assert.Equal(t, "gather", req.Plan[0].ID)
	assert.JSONEq(t, `{"query":"revenue by region"}`, string(req.Plan[0].Input))
	assert.Nil(t, req.Plan[1].Input)
	assert.Equal(t, []string{"summarise"}, req.Plan[2].DependsOn)
	assert.JSONEq(t, `{"to":["ops@example.com"],"1":"numeric key"}`, string(req.Plan[2].Input))
}

func TestParsePlan_SingleCapability(t *testing.T) {
	req, err := ParsePlan([]byte(`{"capability": "execute", "payload": {"cmd": "ls"}}`))
	require.NoError(t, err)
	assert.Equal(t, "execute", req.Capability)
	assert.JSONEq(t, `{"cmd":"ls"}`, string(req.Payload))
	assert.Empty(t, req.Plan)
}

func TestParsePlan_Malformed(t *testing.T) {
	_, err := ParsePlan([]byte("steps: [unclosed"))
	require.Error(t, err)
}

func TestLoadPlan_File(t *testing.T) {
	path := writeFile(t, "plan.yaml", "capability: research\n")
	req, err := LoadPlan(path)
	require.NoError(t, err)
	assert.Equal(t, "research", req.Capability)

	_, err = LoadPlan(path + ".missing")
	require.Error(t, err)
}
