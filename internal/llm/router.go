package llm

import (
	"strings"
	"sync"
)

// Task selects the model used for a completion.
type Task string

const (
	TaskPlanning     Task = "planning"
	TaskExtraction   Task = "extraction"
	TaskVerification Task = "verification"
	TaskSynthesis    Task = "synthesis"
)

// Router maps tasks to model names. Routes can be replaced at runtime when
// the configuration file changes.
type Router struct {
	mu       sync.RWMutex
	models   map[Task]string
	fallback string
}

// NewRouter builds a Router from a task->model table. Unknown tasks route
// to the planning model.
func NewRouter(models map[string]string) *Router {
	r := &Router{}
	r.Update(models)
	return r
}

// Update replaces the routing table.
func (r *Router) Update(models map[string]string) {
	table := make(map[Task]string, len(models))
	for task, model := range models {
		table[Task(strings.ToLower(strings.TrimSpace(task)))] = strings.TrimSpace(model)
	}
	r.mu.Lock()
	r.models = table
	r.fallback = table[TaskPlanning]
	r.mu.Unlock()
}

// Route returns the model for task.
func (r *Router) Route(task Task) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if m, ok := r.models[task]; ok && m != "" {
		return m
	}
	return r.fallback
}

// DetectProvider infers the vendor behind a model name. The LLM service
// backend forwards it as provider_override.
func DetectProvider(model string) string {
	ml := strings.ToLower(strings.TrimSpace(model))
	switch {
	case ml == "":
		return "unknown"
	case strings.HasPrefix(ml, "gpt-"), strings.HasPrefix(ml, "o1"), strings.HasPrefix(ml, "o3"),
		strings.HasPrefix(ml, "o4"), strings.Contains(ml, "davinci"):
		return "openai"
	case strings.Contains(ml, "claude"):
		return "anthropic"
	case strings.Contains(ml, "gemini"), strings.Contains(ml, "palm"):
		return "google"
	case strings.Contains(ml, "mistral"), strings.Contains(ml, "mixtral"):
		return "mistral"
	case strings.Contains(ml, "deepseek"):
		return "deepseek"
	case strings.Contains(ml, "qwen"):
		return "qwen"
	case strings.Contains(ml, "llama"):
		return "ollama"
	default:
		return "unknown"
	}
}
