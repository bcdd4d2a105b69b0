package types

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAIRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		req     AIRequest
		wantErr string
	}{
		{"valid", AIRequest{TaskType: TaskCoding, Prompt: "x", MaxTokens: 1}, ""},
		{"missing prompt", AIRequest{TaskType: TaskCoding, MaxTokens: 1}, "Prompt is required"},
		{"zero max tokens", AIRequest{TaskType: TaskCoding, Prompt: "x"}, "MaxTokens must be greater than 0"},
		{"missing task type", AIRequest{Prompt: "x", MaxTokens: 1}, "TaskType is required"},
		{"unknown task type", AIRequest{TaskType: "dancing", Prompt: "x", MaxTokens: 1}, `unknown task type "dancing"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			var validationErr *ValidationError
			assert.ErrorAs(t, err, &validationErr)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestProviderConfig_Validate(t *testing.T) {
	valid := ProviderConfig{
		Type:      "groq",
		Models:    []string{"llama-3.1-8b-instant"},
		TaskTypes: []TaskType{TaskChat},
	}
	assert.NoError(t, valid.Validate())

	noModels := valid
	noModels.Models = nil
	assert.Error(t, noModels.Validate())

	badTransport := valid
	badTransport.Transport = "grpc"
	assert.ErrorContains(t, badTransport.Validate(), "Transport must be one of")

	negativeLimit := valid
	negativeLimit.DailyLimit = -1
	assert.Error(t, negativeLimit.Validate())

	badTask := valid
	badTask.TaskTypes = []TaskType{"dancing"}
	assert.ErrorContains(t, badTask.Validate(), "unknown task type")
}

func TestParseTaskType(t *testing.T) {
	parsed, err := ParseTaskType(" Coding ")
	require.NoError(t, err)
	assert.Equal(t, TaskCoding, parsed)

	_, err = ParseTaskType("dancing")
	assert.ErrorContains(t, err, "expected one of [thinking coding writing analysis vision review chat]")

	for _, known := range TaskTypes() {
		parsed, err := ParseTaskType(strings.ToUpper(string(known)))
		require.NoError(t, err)
		assert.Equal(t, known, parsed)
	}

	var tt TaskType
	require.NoError(t, tt.UnmarshalText([]byte("VISION")))
	assert.Equal(t, TaskVision, tt)
}

func TestProviderConfig_ResolveModel(t *testing.T) {
	p := &ProviderConfig{Models: []string{"first", "second"}}

	assert.Equal(t, "first", p.ResolveModel(&AIRequest{}))
	assert.Equal(t, "first", p.ResolveModel(&AIRequest{Model: ModelAuto}))
	assert.Equal(t, "second", p.ResolveModel(&AIRequest{Model: "second"}))
	assert.True(t, p.SupportsModel("second"))
	assert.False(t, p.SupportsModel("third"))
}

func TestProviderConfig_Limits(t *testing.T) {
	p := &ProviderConfig{}
	assert.True(t, p.UnlimitedDaily())
	assert.True(t, p.UnlimitedRate())
	assert.True(t, p.IsFreeTier())

	p = &ProviderConfig{DailyLimit: 10, RateLimit: 2, APIKey: "k"}
	assert.False(t, p.UnlimitedDaily())
	assert.False(t, p.UnlimitedRate())
	assert.False(t, p.IsFreeTier())
}

func TestProviderConfig_Clone(t *testing.T) {
	p := &ProviderConfig{Type: "a", Models: []string{"m1"}, TaskTypes: []TaskType{TaskChat}}

	clone := p.Clone()
	clone.Models[0] = "changed"
	clone.TaskTypes[0] = TaskVision
	clone.Enabled = true

	assert.Equal(t, []string{"m1"}, p.Models)
	assert.Equal(t, []TaskType{TaskChat}, p.TaskTypes)
	assert.False(t, p.Enabled)
}
