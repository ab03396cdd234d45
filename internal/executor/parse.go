package executor

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

type actionKind int

const (
	actionInvalid actionKind = iota
	actionTool
	actionDone
)

// action is one parsed oracle response.
type action struct {
	kind    actionKind
	thought string
	tool    string
	args    map[string]any
	result  string
}

var (
	doneRe    = regexp.MustCompile(`(?im)^\s*\**DONE\**\s*:\s*(.*)$`)
	resultRe  = regexp.MustCompile(`(?is)(?:^|\n)\s*\**RESULT\**\s*:\s*(.*)$`)
	toolRe    = regexp.MustCompile(`(?im)^\s*\**TOOL\**\s*:\s*(.+?)\s*$`)
	thinkRe   = regexp.MustCompile(`(?im)^\s*\**THINK\**\s*:\s*(.+?)\s*$`)
	argsRe    = regexp.MustCompile(`(?is)(?:^|\n)\s*\**ARGS\**\s*:\s*(.*)$`)
	fenceRe   = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*(.*?)\\s*```$")
	kvQuoted  = regexp.MustCompile(`["']?([A-Za-z_][A-Za-z0-9_]*)["']?\s*[:=]\s*(?:"([^"]*)"|'([^']*)')`)
	kvNumeric = regexp.MustCompile(`["']?([A-Za-z_][A-Za-z0-9_]*)["']?\s*[:=]\s*(-?\d+(?:\.\d+)?)\b`)
)

// parseResponse classifies an oracle response. Completion wins over a
// tool call when both appear, unless DONE is explicitly negative.
func parseResponse(text string) action {
	if m := doneRe.FindStringSubmatch(text); m != nil && !negative(m[1]) {
		a := action{kind: actionDone}
		if r := resultRe.FindStringSubmatch(text); r != nil {
			a.result = strings.TrimSpace(r[1])
		}
		return a
	}

	m := toolRe.FindStringSubmatch(text)
	if m == nil {
		return action{kind: actionInvalid}
	}
	a := action{kind: actionTool, tool: strings.Trim(m[1], "`*\"' ")}
	if t := thinkRe.FindStringSubmatch(text); t != nil {
		a.thought = t[1]
	}
	raw := ""
	if r := argsRe.FindStringSubmatch(text); r != nil {
		raw = r[1]
	}
	a.args = parseArgs(raw)
	return a
}

func negative(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return strings.HasPrefix(v, "no") || strings.HasPrefix(v, "false")
}

// parseArgs never fails: strict JSON, then repaired JSON, then loose
// key/value extraction.
func parseArgs(raw string) map[string]any {
	raw = strings.TrimSpace(raw)
	if m := fenceRe.FindStringSubmatch(raw); m != nil {
		raw = m[1]
	}
	if raw == "" {
		return map[string]any{}
	}

	start := strings.Index(raw, "{")
	if start < 0 {
		return extractKeyValues(raw)
	}
	candidate := raw[start:]
	if end := strings.LastIndex(raw, "}"); end > start {
		candidate = raw[start : end+1]
	}

	args := map[string]any{}
	if err := json.Unmarshal([]byte(candidate), &args); err == nil {
		return args
	}
	if repaired, err := jsonrepair.JSONRepair(candidate); err == nil {
		args = map[string]any{}
		if err := json.Unmarshal([]byte(repaired), &args); err == nil {
			return args
		}
	}
	return extractKeyValues(raw)
}

func extractKeyValues(raw string) map[string]any {
	args := map[string]any{}
	for _, m := range kvQuoted.FindAllStringSubmatch(raw, -1) {
		if m[2] != "" {
			args[m[1]] = m[2]
		} else {
			args[m[1]] = m[3]
		}
	}
	rest := kvQuoted.ReplaceAllString(raw, " ")
	for _, m := range kvNumeric.FindAllStringSubmatch(rest, -1) {
		if _, ok := args[m[1]]; ok {
			continue
		}
		if n, err := strconv.ParseFloat(m[2], 64); err == nil {
			args[m[1]] = n
		}
	}
	return args
}
