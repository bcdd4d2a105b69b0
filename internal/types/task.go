package types

import (
	"fmt"
	"strings"
	"time"
)

// TaskType is the category of work a request asks for
type TaskType string

const (
	TaskThinking TaskType = "thinking"
	TaskCoding   TaskType = "coding"
	TaskWriting  TaskType = "writing"
	TaskAnalysis TaskType = "analysis"
	TaskVision   TaskType = "vision"
	TaskReview   TaskType = "review"
	TaskChat     TaskType = "chat"
)

// ModelAuto lets the router pick the concrete model
const ModelAuto = "auto"

var knownTaskTypes = func() map[TaskType]bool {
	known := make(map[TaskType]bool)
	for _, t := range TaskTypes() {
		known[t] = true
	}
	return known
}()

// TaskTypes returns the closed set of task types in a stable order
func TaskTypes() []TaskType {
	return []TaskType{TaskThinking, TaskCoding, TaskWriting, TaskAnalysis, TaskVision, TaskReview, TaskChat}
}

// Valid reports whether t belongs to the closed set
func (t TaskType) Valid() bool {
	return knownTaskTypes[t]
}

// ParseTaskType normalises and validates a task type name
func ParseTaskType(s string) (TaskType, error) {
	t := TaskType(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("unknown task type %q, expected one of %v", s, TaskTypes())
	}
	return t, nil
}

// UnmarshalText accepts task types case-insensitively from JSON and YAML
func (t *TaskType) UnmarshalText(text []byte) error {
	parsed, err := ParseTaskType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// AIRequest is a single generation request. It is treated as immutable once
// handed to the router.
type AIRequest struct {
	ID        string   `json:"id,omitempty"`
	TaskType  TaskType `json:"task_type" validate:"required"`
	Prompt    string   `json:"prompt" validate:"required"`
	Model     string   `json:"model,omitempty"`
	MaxTokens int      `json:"max_tokens" validate:"gt=0"`

	// Sampling parameters, passed through to the transport untouched
	SystemPrompt string                 `json:"system_prompt,omitempty"`
	Temperature  *float32               `json:"temperature,omitempty"`
	TopP         *float32               `json:"top_p,omitempty"`
	Stop         []string               `json:"stop,omitempty"`
	Extra        map[string]interface{} `json:"extra,omitempty"`
}

// WantsAutoModel reports whether the router should choose the model
func (r *AIRequest) WantsAutoModel() bool {
	return r.Model == "" || r.Model == ModelAuto
}

// AIResponse is the assembled result of a successful dispatch
type AIResponse struct {
	RequestID  string        `json:"request_id,omitempty"`
	Content    string        `json:"content"`
	Provider   string        `json:"provider"`
	Model      string        `json:"model"`
	TokensUsed int           `json:"tokens_used"`
	Cost       float64       `json:"cost"`
	Attempts   int           `json:"attempts"`
	Latency    time.Duration `json:"latency"`
}

// DispatchResult is what a transport hands back for one successful attempt
type DispatchResult struct {
	Content    string `json:"content"`
	TokensUsed int    `json:"tokens_used"`
}
