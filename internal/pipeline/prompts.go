package pipeline

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Prompts holds department-specific analysis instructions.
type Prompts struct {
	Default     string            `yaml:"default"`
	Departments map[string]string `yaml:"departments"`
}

const defaultAnalysisInstructions = `Focus on what the caller needs and how quickly the company should respond.`

func DefaultPrompts() Prompts {
	return Prompts{
		Default: defaultAnalysisInstructions,
		Departments: map[string]string{
			"support":       "Identify the product or service involved, the reported problem and whether it is resolved.",
			"hr":            "Identify employee or candidate concerns. Treat personal details as confidential and flag policy issues.",
			"manufacturing": "Identify orders, production lines, defects or supply delays mentioned and any safety concern.",
			"marketing":     "Identify campaign, lead quality and buying signals. Note competitor mentions.",
			"sales":         "Identify purchase intent, budget, timeline and decision makers.",
		},
	}
}

// LoadPrompts reads a YAML prompts file. An empty path returns DefaultPrompts.
// Departments missing from the file keep their built-in instructions.
func LoadPrompts(path string) (Prompts, error) {
	p := DefaultPrompts()
	if strings.TrimSpace(path) == "" {
		return p, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Prompts{}, fmt.Errorf("read prompts: %w", err)
	}
	var file Prompts
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return Prompts{}, fmt.Errorf("parse prompts: %w", err)
	}
	if strings.TrimSpace(file.Default) != "" {
		p.Default = file.Default
	}
	for k, v := range file.Departments {
		p.Departments[strings.ToLower(k)] = v
	}
	return p, nil
}

func (p Prompts) For(department string) string {
	if v, ok := p.Departments[strings.ToLower(department)]; ok && strings.TrimSpace(v) != "" {
		return v
	}
	return p.Default
}
