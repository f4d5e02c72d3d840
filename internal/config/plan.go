package config

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ab1355/ModuMind/internal/orchestrator"
)

// PlanFile is the on-disk form of a task submission.
type PlanFile struct {
	Description string     `yaml:"description,omitempty"`
	Capability  string     `yaml:"capability,omitempty"`
	Payload     any        `yaml:"payload,omitempty"`
	Steps       []PlanStep `yaml:"steps,omitempty"`
}

// PlanStep is one step of a PlanFile.
type PlanStep struct {
	ID         string   `yaml:"id"`
	Capability string   `yaml:"capability"`
	Input      any      `yaml:"input,omitempty"`
	DependsOn  []string `yaml:"depends_on,omitempty"`
}

// LoadPlan reads a YAML (or JSON) plan file into a request. Graph validity is
// checked later by the engine.
func LoadPlan(path string) (orchestrator.Request, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return orchestrator.Request{}, fmt.Errorf("read plan: %w", err)
	}
	return ParsePlan(data)
}

// ParsePlan decodes plan bytes into a request.
func ParsePlan(data []byte) (orchestrator.Request, error) {
	var pf PlanFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return orchestrator.Request{}, fmt.Errorf("parse plan: %w", err)
	}

	req := orchestrator.Request{
		Description: pf.Description,
		Capability:  pf.Capability,
	}
	payload, err := toJSON(pf.Payload)
	if err != nil {
		return orchestrator.Request{}, fmt.Errorf("plan payload: %w", err)
	}
	req.Payload = payload

	for _, s := range pf.Steps {
		input, err := toJSON(s.Input)
		if err != nil {
			return orchestrator.Request{}, fmt.Errorf("plan step %q input: %w", s.ID, err)
		}
		req.Plan = append(req.Plan, orchestrator.Step{
			ID:         s.ID,
			Capability: s.Capability,
			Input:      input,
			DependsOn:  s.DependsOn,
		})
	}
	return req, nil
}

func toJSON(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(normalize(v))
	if err != nil {
		return nil, err
	}
	return b, nil
}

// normalize converts YAML maps with non-string keys into JSON-encodable maps.
func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalize(val)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = normalize(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalize(val)
		}
		return out
	default:
		return v
	}
}
