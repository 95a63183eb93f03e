package ingest

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"gopkg.in/yaml.v3"
)

// Instruction is one task-instruction file after sanitizing
type Instruction struct {
	ID              string
	Title           string
	Category        string
	Intent          string
	Description     string
	Content         string
	Keywords        []string
	EstimatedEffort string
	Steps           string
	RelatedTasks    []string
}

// loadFile decodes a .json, .yaml or .yml file. YAML decoding covers JSON.
func loadFile(path string) (*Instruction, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read instruction file", goerr.V("path", path))
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, goerr.Wrap(err, "failed to decode instruction file", goerr.V("path", path))
	}
	if raw == nil {
		return nil, goerr.New("instruction file is empty", goerr.V("path", path))
	}

	return sanitize(raw)
}

// sanitize normalizes loosely typed fields: scalars where lists belong and
// lists where scalars belong are both accepted.
func sanitize(raw map[string]any) (*Instruction, error) {
	steps := raw["steps"]
	if steps == nil {
		steps = []any{}
	}
	stepsJSON, err := json.Marshal(steps)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to encode steps")
	}

	keywords := toStrings(raw["keywords"])
	if s, ok := raw["keywords"].(string); ok {
		keywords = splitComma(s)
	}

	return &Instruction{
		ID:              toString(raw["id"]),
		Title:           toString(raw["title"]),
		Category:        toString(raw["category"]),
		Intent:          toString(raw["intent"]),
		Description:     toString(raw["description"]),
		Content:         toString(raw["content"]),
		Keywords:        keywords,
		EstimatedEffort: toString(raw["estimated_effort"]),
		Steps:           string(stepsJSON),
		RelatedTasks:    toStrings(raw["related_tasks"]),
	}, nil
}

func toString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []any:
		parts := make([]string, 0, len(x))
		for _, e := range x {
			parts = append(parts, toString(e))
		}
		return strings.Join(parts, ", ")
	case map[string]any:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	default:
		return fmt.Sprint(x)
	}
}

func toStrings(v any) []string {
	switch x := v.(type) {
	case nil:
		return []string{}
	case []any:
		out := make([]string, 0, len(x))
		for _, e := range x {
			out = append(out, toString(e))
		}
		return out
	default:
		return []string{toString(x)}
	}
}

func splitComma(s string) []string {
	out := []string{}
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
