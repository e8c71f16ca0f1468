package activities

import (
	"bytes"
	_ "embed"
	"fmt"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

// Prompt names in prompts.yaml.
const (
	promptPlanning         = "planning"
	promptExtraction       = "extraction"
	promptCrossReference   = "cross_reference"
	promptExecutiveSummary = "executive_summary"
	promptSection          = "section"
)

//go:embed prompts.yaml
var promptsYAML []byte

type promptSource struct {
	System string `yaml:"system"`
	User   string `yaml:"user"`
}

type promptTemplate struct {
	system *template.Template
	user   *template.Template
}

var prompts = mustParsePrompts(promptsYAML)

func mustParsePrompts(data []byte) map[string]promptTemplate {
	parsed, err := parsePrompts(data)
	if err != nil {
		panic(err)
	}
	return parsed
}

func parsePrompts(data []byte) (map[string]promptTemplate, error) {
	var raw map[string]promptSource
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse prompt catalogue: %w", err)
	}
	out := make(map[string]promptTemplate, len(raw))
	for name, src := range raw {
		if strings.TrimSpace(src.User) == "" {
			return nil, fmt.Errorf("prompt %q has no user template", name)
		}
		var pt promptTemplate
		var err error
		if pt.user, err = template.New(name + ".user").Option("missingkey=error").Parse(src.User); err != nil {
			return nil, fmt.Errorf("prompt %q: %w", name, err)
		}
		if src.System != "" {
			if pt.system, err = template.New(name + ".system").Option("missingkey=error").Parse(src.System); err != nil {
				return nil, fmt.Errorf("prompt %q: %w", name, err)
			}
		}
		out[name] = pt
	}
	return out, nil
}

// renderPrompt executes the named prompt pair with data.
func renderPrompt(name string, data any) (system, user string, err error) {
	pt, ok := prompts[name]
	if !ok {
		return "", "", fmt.Errorf("unknown prompt %q", name)
	}
	if pt.system != nil {
		if system, err = execute(pt.system, data); err != nil {
			return "", "", err
		}
	}
	if user, err = execute(pt.user, data); err != nil {
		return "", "", err
	}
	return system, user, nil
}

func execute(t *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s: %w", t.Name(), err)
	}
	return strings.TrimSpace(buf.String()), nil
}
