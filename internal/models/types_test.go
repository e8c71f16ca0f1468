package models

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResearchRequestValidate(t *testing.T) {
	tests := []struct {
		name    string
		req     ResearchRequest
		wantErr bool
	}{
		{"valid quick", ResearchRequest{Query: "Research Tesla's Q4 2023 performance", DepthLevel: DepthQuick}, false},
		{"query too short", ResearchRequest{Query: "Tesla", DepthLevel: DepthQuick}, true},
		{"query too long", ResearchRequest{Query: strings.Repeat("a", MaxQueryLength+1), DepthLevel: DepthStandard}, true},
		{"exact max length", ResearchRequest{Query: strings.Repeat("a", MaxQueryLength), DepthLevel: DepthStandard}, false},
		{"unknown depth", ResearchRequest{Query: "Research Tesla's Q4 2023 performance", DepthLevel: "deep"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidRequest))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestDepthTable(t *testing.T) {
	assert.Equal(t, DepthConfig{3, 5, 1}, ConfigForDepth(DepthQuick))
	assert.Equal(t, DepthConfig{5, 7, 2}, ConfigForDepth(DepthStandard))
	assert.Equal(t, DepthConfig{7, 10, 3}, ConfigForDepth(DepthComprehensive))
	assert.Equal(t, ConfigForDepth(DepthStandard), ConfigForDepth("unknown"))
	assert.Equal(t, 3, MaxDepth(DepthComprehensive))
}

func TestParseDepthLevel(t *testing.T) {
	lvl, ok := ParseDepthLevel(" Quick ")
	assert.True(t, ok)
	assert.Equal(t, DepthQuick, lvl)

	lvl, ok = ParseDepthLevel("")
	assert.True(t, ok)
	assert.Equal(t, DepthStandard, lvl)

	_, ok = ParseDepthLevel("exhaustive")
	assert.False(t, ok)
}

func TestParseResolutionBasis(t *testing.T) {
	assert.Equal(t, ResolutionRecency, ParseResolutionBasis("Recency"))
	assert.Equal(t, ResolutionConsensus, ParseResolutionBasis(" consensus "))
	assert.Equal(t, ResolutionUnknown, ParseResolutionBasis("recency|credibility"))
	assert.Equal(t, ResolutionUnknown, ParseResolutionBasis(""))
}

func TestPlanCompletedQuestions(t *testing.T) {
	p := &ResearchPlan{SubQuestions: []SubQuestion{
		{Status: QuestionCompleted}, {Status: QuestionFailed}, {Status: QuestionCompleted}, {Status: QuestionPending},
	}}
	assert.Equal(t, 2, p.CompletedQuestions())
}

func TestWorkflowStatusTerminal(t *testing.T) {
	assert.True(t, WorkflowCompleted.IsTerminal())
	assert.True(t, WorkflowFailed.IsTerminal())
	assert.False(t, WorkflowSynthesizing.IsTerminal())
}
