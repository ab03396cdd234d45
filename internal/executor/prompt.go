package executor

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fentz26/cadence/internal/memory"
	"github.com/fentz26/cadence/internal/models"
	"github.com/fentz26/cadence/internal/tools"
)

const systemPrompt = `You are an autonomous agent executing a goal step by step with tools.
Respond in exactly one of the two formats below and nothing else.

To use a tool:
THINK: <one sentence of reasoning>
TOOL: <tool name>
ARGS: <JSON object>

When the goal is complete:
DONE: yes
RESULT: <what was accomplished>`

const correction = "FORMAT ERROR: your last reply matched neither format. Reply with THINK/TOOL/ARGS to use a tool, or DONE/RESULT if the goal is complete. No other text."

const saveProgressName = "save_progress"

var saveProgressSpec = tools.Spec{
	Name:        saveProgressName,
	Description: "Persist the steps taken so far so the work can continue in a later session.",
	Args:        "{}",
}

func buildPrompt(goal Goal, memories []memory.Memory, obs []Observation, manifest []tools.Spec, previewChars int) string {
	var b strings.Builder

	fmt.Fprintf(&b, "GOAL: %s\n", goal.Description)

	if len(memories) > 0 {
		b.WriteString("\nRELEVANT MEMORIES:\n")
		for _, m := range memories {
			fmt.Fprintf(&b, "- %s\n", m.Content)
		}
	}

	if len(obs) > 0 {
		b.WriteString("\nPREVIOUS STEPS:\n")
		for _, o := range obs {
			if o.Tool != "" {
				fmt.Fprintf(&b, "[%d] %s -> %s\n", o.Step, o.Tool, models.Truncate(render(o.Result), previewChars))
			} else {
				fmt.Fprintf(&b, "[%d] %s\n", o.Step, o.Thought)
			}
		}
	}

	b.WriteString("\nAVAILABLE TOOLS:\n")
	for _, t := range manifest {
		fmt.Fprintf(&b, "- %s: %s Args: %s\n", t.Name, t.Description, t.Args)
	}

	b.WriteString("\nWhat is the single next step?")
	return b.String()
}

func render(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}
