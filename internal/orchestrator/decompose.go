package orchestrator

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Capability names the router knows how to infer.
const (
	CapabilityResearch    = "research"
	CapabilityExecute     = "execute"
	CapabilityCode        = "code"
	CapabilityCommunicate = "communicate"
)

// keywordRules are checked in order; the first rule with a matching keyword
// wins.
var keywordRules = []struct {
	capability string
	keywords   []string
}{
	{CapabilityResearch, []string{"research", "browse", "search"}},
	{CapabilityExecute, []string{"execute", "run", "implement"}},
	{CapabilityCode, []string{"code", "program", "develop"}},
	{CapabilityCommunicate, []string{"notify", "email", "message", "send"}},
}

// InferCapability picks a capability for a free-text description by keyword.
// It falls back to execute.
func InferCapability(description string) string {
	d := strings.ToLower(description)
	for _, rule := range keywordRules {
		for _, kw := range rule.keywords {
			if strings.Contains(d, kw) {
				return rule.capability
			}
		}
	}
	return CapabilityExecute
}

// Decompose turns a request into a validated list of steps. Plans are
// checked for duplicate IDs, unknown references and cycles; single-capability
// and description-only requests become a one-step plan. Steps without input
// inherit the request payload.
func Decompose(req Request) ([]Step, error) {
	var steps []Step

	switch {
	case len(req.Plan) > 0:
		steps = make([]Step, 0, len(req.Plan))
		for _, s := range req.Plan {
			s.ID = strings.TrimSpace(s.ID)
			s.Capability = strings.ToLower(strings.TrimSpace(s.Capability))
			s.DependsOn = append([]string(nil), s.DependsOn...)
			steps = append(steps, s)
		}
	case strings.TrimSpace(req.Capability) != "":
		c := strings.ToLower(strings.TrimSpace(req.Capability))
		steps = []Step{{ID: c, Capability: c}}
	case strings.TrimSpace(req.Description) != "":
		c := InferCapability(req.Description)
		input := req.Payload
		if len(input) == 0 {
			b, err := json.Marshal(map[string]string{"description": req.Description})
			if err != nil {
				return nil, fmt.Errorf("orchestrator: encode description: %w", err)
			}
			input = b
		}
		steps = []Step{{ID: c, Capability: c, Input: input}}
	}

	if _, err := buildPlanGraph(steps); err != nil {
		return nil, err
	}

	for i := range steps {
		if len(steps[i].Input) == 0 {
			steps[i].Input = req.Payload
		}
	}
	return steps, nil
}
