package bedrock

import (
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

func directTarget(modelID string) Target {
	return Target{Family: FamilyDirectInvoke, ModelID: modelID}
}

func TestBuildConverseInput_SystemLifted(t *testing.T) {
	req := &ChatRequest{
		Messages: []Message{
			{Role: "system", Content: "be terse"},
			{Role: "user", Content: "hi"},
			{Role: "assistant", Content: "hello"},
			{Role: "user", Content: "how are you"},
		},
	}

	in := BuildConverseInput(req, directTarget("anthropic.claude-3-haiku-20240307-v1:0"))

	if got := aws.ToString(in.ModelId); got != "anthropic.claude-3-haiku-20240307-v1:0" {
		t.Errorf("ModelId = %q", got)
	}
	if len(in.System) != 1 {
		t.Fatalf("len(System) = %d, want 1", len(in.System))
	}
	if sys := in.System[0].(*types.SystemContentBlockMemberText); sys.Value != "be terse" {
		t.Errorf("system text = %q", sys.Value)
	}
	if len(in.Messages) != 3 {
		t.Fatalf("len(Messages) = %d, want 3 (system removed)", len(in.Messages))
	}

	wantRoles := []types.ConversationRole{
		types.ConversationRoleUser,
		types.ConversationRoleAssistant,
		types.ConversationRoleUser,
	}
	for i, m := range in.Messages {
		if m.Role != wantRoles[i] {
			t.Errorf("Messages[%d].Role = %q, want %q", i, m.Role, wantRoles[i])
		}
	}
	text := in.Messages[2].Content[0].(*types.ContentBlockMemberText)
	if text.Value != "how are you" {
		t.Errorf("Messages[2] text = %q", text.Value)
	}
}

func TestBuildConverseInput_UnknownRoleForwardedAsUser(t *testing.T) {
	req := &ChatRequest{Messages: []Message{{Role: "tool", Content: "result"}}}
	in := BuildConverseInput(req, directTarget("m"))
	if in.Messages[0].Role != types.ConversationRoleUser {
		t.Errorf("unknown role mapped to %q, want user", in.Messages[0].Role)
	}
}

func TestBuildConverseInput_Defaults(t *testing.T) {
	req := &ChatRequest{Messages: []Message{{Role: "user", Content: "hi"}}}
	cfg := BuildConverseInput(req, directTarget("m")).InferenceConfig

	if got := aws.ToFloat32(cfg.Temperature); got != 0.7 {
		t.Errorf("Temperature = %v, want 0.7", got)
	}
	if got := aws.ToFloat32(cfg.TopP); got != 0.9 {
		t.Errorf("TopP = %v, want 0.9", got)
	}
	if got := aws.ToInt32(cfg.MaxTokens); got != 500 {
		t.Errorf("MaxTokens = %v, want 500", got)
	}
	if cfg.StopSequences != nil {
		t.Errorf("StopSequences = %v, want nil", cfg.StopSequences)
	}
}

func TestBuildConverseInput_ExplicitParamsWin(t *testing.T) {
	req := &ChatRequest{
		Messages:    []Message{{Role: "user", Content: "hi"}},
		Temperature: aws.Float64(0), // explicit zero is not "unset"
		TopP:        aws.Float64(0.5),
		MaxTokens:   42,
		Stop:        []string{"\n\n", "END"},
	}
	cfg := BuildConverseInput(req, directTarget("m")).InferenceConfig

	if got := aws.ToFloat32(cfg.Temperature); got != 0 {
		t.Errorf("Temperature = %v, want 0", got)
	}
	if got := aws.ToFloat32(cfg.TopP); got != 0.5 {
		t.Errorf("TopP = %v, want 0.5", got)
	}
	if got := aws.ToInt32(cfg.MaxTokens); got != 42 {
		t.Errorf("MaxTokens = %v, want 42", got)
	}
	if len(cfg.StopSequences) != 2 || cfg.StopSequences[1] != "END" {
		t.Errorf("StopSequences = %v", cfg.StopSequences)
	}
}

func TestBuildConverseStreamInput_MatchesBuffered(t *testing.T) {
	req := &ChatRequest{
		Messages:  []Message{{Role: "system", Content: "s"}, {Role: "user", Content: "u"}},
		MaxTokens: 99,
	}
	buf := BuildConverseInput(req, directTarget("m"))
	st := BuildConverseStreamInput(req, directTarget("m"))

	if aws.ToString(st.ModelId) != aws.ToString(buf.ModelId) {
		t.Error("ModelId differs between stream and buffered input")
	}
	if len(st.Messages) != len(buf.Messages) || len(st.System) != len(buf.System) {
		t.Error("message layout differs between stream and buffered input")
	}
	if aws.ToInt32(st.InferenceConfig.MaxTokens) != 99 {
		t.Errorf("stream MaxTokens = %v", aws.ToInt32(st.InferenceConfig.MaxTokens))
	}
}

func TestBuildRetrieveInput(t *testing.T) {
	req := &ChatRequest{
		Messages: []Message{
			{Role: "user", Content: "first question"},
			{Role: "assistant", Content: "answer"},
			{Role: "user", Content: "what is the refund policy?"},
		},
		MaxTokens: 256,
	}
	target := Target{
		Family:   FamilyKnowledgeBase,
		ModelID:  "anthropic.claude-3-haiku-20240307-v1:0",
		ModelARN: "arn:aws:bedrock:us-east-1::foundation-model/anthropic.claude-3-haiku-20240307-v1:0",
	}

	in := BuildRetrieveInput(req, target, "KB12345", 5)

	if got := aws.ToString(in.Input.Text); got != "what is the refund policy?" {
		t.Errorf("retrieval query = %q, want the last user message", got)
	}

	kb := in.RetrieveAndGenerateConfiguration.KnowledgeBaseConfiguration
	if got := aws.ToString(kb.KnowledgeBaseId); got != "KB12345" {
		t.Errorf("KnowledgeBaseId = %q", got)
	}
	if got := aws.ToString(kb.ModelArn); got != target.ModelARN {
		t.Errorf("ModelArn = %q", got)
	}
	if got := aws.ToInt32(kb.RetrievalConfiguration.VectorSearchConfiguration.NumberOfResults); got != 5 {
		t.Errorf("NumberOfResults = %d, want 5", got)
	}

	gen := kb.GenerationConfiguration
	if got := aws.ToInt32(gen.InferenceConfig.TextInferenceConfig.MaxTokens); got != 256 {
		t.Errorf("MaxTokens = %d, want 256", got)
	}
	tmpl := aws.ToString(gen.PromptTemplate.TextPromptTemplate)
	for _, placeholder := range []string{"$search_results$", "$query$", "$output_format_instructions$"} {
		if !strings.Contains(tmpl, placeholder) {
			t.Errorf("prompt template missing %s", placeholder)
		}
	}
}

func TestBuildRetrieveInput_DefaultNumResults(t *testing.T) {
	req := &ChatRequest{Messages: []Message{{Role: "user", Content: "q"}}}
	in := BuildRetrieveInput(req, Target{}, "KB", 0)
	got := aws.ToInt32(in.RetrieveAndGenerateConfiguration.KnowledgeBaseConfiguration.
		RetrievalConfiguration.VectorSearchConfiguration.NumberOfResults)
	if got != 10 {
		t.Errorf("NumberOfResults = %d, want 10", got)
	}
}

func TestRetrievalQuery(t *testing.T) {
	tests := []struct {
		name string
		msgs []Message
		want string
	}{
		{"last user wins", []Message{{Role: "user", Content: "a"}, {Role: "user", Content: "b"}}, "b"},
		{"skips trailing assistant", []Message{{Role: "user", Content: "a"}, {Role: "assistant", Content: "x"}}, "a"},
		{"no user turn falls back to last", []Message{{Role: "system", Content: "s"}}, "s"},
		{"empty conversation", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := retrievalQuery(tt.msgs); got != tt.want {
				t.Errorf("retrievalQuery = %q, want %q", got, tt.want)
			}
		})
	}
}
