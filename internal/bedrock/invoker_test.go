package bedrock

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime"
	agenttypes "github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime/types"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"
)

type stubRuntime struct {
	lastConverse *bedrockruntime.ConverseInput
	out          *bedrockruntime.ConverseOutput
	err          error
}

func (s *stubRuntime) Converse(_ context.Context, in *bedrockruntime.ConverseInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	s.lastConverse = in
	return s.out, s.err
}

func (s *stubRuntime) ConverseStream(_ context.Context, _ *bedrockruntime.ConverseStreamInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error) {
	return nil, s.err
}

type stubAgent struct {
	lastInput *bedrockagentruntime.RetrieveAndGenerateInput
	out       *bedrockagentruntime.RetrieveAndGenerateOutput
	err       error
}

func (s *stubAgent) RetrieveAndGenerate(_ context.Context, in *bedrockagentruntime.RetrieveAndGenerateInput, _ ...func(*bedrockagentruntime.Options)) (*bedrockagentruntime.RetrieveAndGenerateOutput, error) {
	s.lastInput = in
	return s.out, s.err
}

func TestInvoke_ConverseBuffered(t *testing.T) {
	runtime := &stubRuntime{
		out: &bedrockruntime.ConverseOutput{
			Output: &types.ConverseOutputMemberMessage{
				Value: types.Message{
					Role: types.ConversationRoleAssistant,
					Content: []types.ContentBlock{
						&types.ContentBlockMemberText{Value: "Hello "},
						&types.ContentBlockMemberText{Value: "world"},
					},
				},
			},
			StopReason: types.StopReasonMaxTokens,
			Usage: &types.TokenUsage{
				InputTokens:  aws.Int32(10),
				OutputTokens: aws.Int32(20),
			},
		},
	}
	inv := &Invoker{runtime: runtime}

	req := &ChatRequest{Messages: []Message{{Role: "user", Content: "hi"}}}
	res, err := inv.Invoke(context.Background(), req, directTarget("anthropic.claude-3-haiku-20240307-v1:0"))
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}

	if res.Content != "Hello world" {
		t.Errorf("Content = %q", res.Content)
	}
	if res.FinishReason != "length" {
		t.Errorf("FinishReason = %q, want length", res.FinishReason)
	}
	if res.Usage.InputTokens != 10 || res.Usage.OutputTokens != 20 {
		t.Errorf("Usage = %+v", res.Usage)
	}
	if res.Chunks != nil {
		t.Error("buffered result carries a chunk channel")
	}
	if got := aws.ToString(runtime.lastConverse.ModelId); got != "anthropic.claude-3-haiku-20240307-v1:0" {
		t.Errorf("backend called with ModelId %q", got)
	}
}

func TestInvoke_ConverseBackendError(t *testing.T) {
	runtime := &stubRuntime{err: &smithy.GenericAPIError{Code: "ThrottlingException", Message: "slow"}}
	inv := &Invoker{runtime: runtime}

	_, err := inv.Invoke(context.Background(), &ChatRequest{}, directTarget("m"))
	var invokeErr *InvokeError
	if !errors.As(err, &invokeErr) {
		t.Fatalf("got %T, want *InvokeError", err)
	}
	if invokeErr.Status != 429 {
		t.Errorf("Status = %d, want 429", invokeErr.Status)
	}
}

func kbOutput(text string) *bedrockagentruntime.RetrieveAndGenerateOutput {
	return &bedrockagentruntime.RetrieveAndGenerateOutput{
		Output:    &agenttypes.RetrieveAndGenerateOutput{Text: aws.String(text)},
		SessionId: aws.String("session-1"),
		Citations: []agenttypes.Citation{
			{
				GeneratedResponsePart: &agenttypes.GeneratedResponsePart{
					TextResponsePart: &agenttypes.TextResponsePart{Text: aws.String("the policy allows refunds")},
				},
				RetrievedReferences: []agenttypes.RetrievedReference{
					{
						Content: &agenttypes.RetrievalResultContent{Text: aws.String("Refunds are allowed within 30 days.")},
						Location: &agenttypes.RetrievalResultLocation{
							Type:       agenttypes.RetrievalResultLocationTypeS3,
							S3Location: &agenttypes.RetrievalResultS3Location{Uri: aws.String("s3://docs/policy.pdf")},
						},
					},
				},
			},
		},
	}
}

func TestInvoke_KnowledgeBase(t *testing.T) {
	agent := &stubAgent{out: kbOutput("Refunds are allowed within 30 days of purchase.")}
	inv := &Invoker{agent: agent, kbID: "KB12345", kbNumResults: 7}

	req := &ChatRequest{
		// Stream is ignored for the knowledge-base family.
		Stream:   true,
		Messages: []Message{{Role: "user", Content: "refund policy?"}},
	}
	target := Target{Family: FamilyKnowledgeBase, ModelID: "m", ModelARN: "arn:aws:bedrock:us-east-1::foundation-model/m"}

	res, err := inv.Invoke(context.Background(), req, target)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}

	if res.Chunks != nil {
		t.Error("knowledge-base result must be buffered")
	}
	if res.FinishReason != "stop" {
		t.Errorf("FinishReason = %q", res.FinishReason)
	}
	if res.Usage.OutputTokens != EstimateTokens(res.Content) || res.Usage.OutputTokens == 0 {
		t.Errorf("Usage = %+v, want estimated completion tokens", res.Usage)
	}
	if len(res.Citations) != 1 || len(res.Citations[0].References) != 1 {
		t.Fatalf("Citations = %+v", res.Citations)
	}
	ref := res.Citations[0].References[0]
	if ref.Location != "s3://docs/policy.pdf" {
		t.Errorf("reference location = %q", ref.Location)
	}

	kb := agent.lastInput.RetrieveAndGenerateConfiguration.KnowledgeBaseConfiguration
	if aws.ToString(kb.KnowledgeBaseId) != "KB12345" {
		t.Errorf("KnowledgeBaseId = %q", aws.ToString(kb.KnowledgeBaseId))
	}
	if got := aws.ToInt32(kb.RetrievalConfiguration.VectorSearchConfiguration.NumberOfResults); got != 7 {
		t.Errorf("NumberOfResults = %d, want 7", got)
	}
}

func TestRetrieve_NativePassthrough(t *testing.T) {
	agent := &stubAgent{out: kbOutput("answer text")}
	inv := &Invoker{agent: agent, kbID: "KB-default", kbNumResults: 10}

	req := &RetrieveRequest{
		KnowledgeBaseID: "KB-override",
		ModelARN:        "arn:aws:bedrock:us-east-1::foundation-model/request-model",
		NumberOfResults: 3,
	}
	req.Input.Text = "what is the policy"

	res, err := inv.Retrieve(context.Background(), req, Target{Family: FamilyKnowledgeBase})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if res.Output.Text != "answer text" {
		t.Errorf("Output.Text = %q", res.Output.Text)
	}
	if len(res.Citations) != 1 {
		t.Errorf("Citations = %+v", res.Citations)
	}

	kb := agent.lastInput.RetrieveAndGenerateConfiguration.KnowledgeBaseConfiguration
	if aws.ToString(kb.KnowledgeBaseId) != "KB-override" {
		t.Errorf("request kb id not honored: %q", aws.ToString(kb.KnowledgeBaseId))
	}
	if aws.ToString(kb.ModelArn) != req.ModelARN {
		t.Errorf("request model arn not honored: %q", aws.ToString(kb.ModelArn))
	}
	if aws.ToString(agent.lastInput.Input.Text) != "what is the policy" {
		t.Errorf("query = %q", aws.ToString(agent.lastInput.Input.Text))
	}
}

func TestRetrieve_FallsBackToConfiguredKB(t *testing.T) {
	agent := &stubAgent{out: &bedrockagentruntime.RetrieveAndGenerateOutput{
		Output:    &agenttypes.RetrieveAndGenerateOutput{Text: aws.String("x")},
		SessionId: aws.String("s"),
	}}
	inv := &Invoker{agent: agent, kbID: "KB-default", kbNumResults: 10}

	req := &RetrieveRequest{}
	req.Input.Text = "q"
	res, err := inv.Retrieve(context.Background(), req, Target{})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if res.Citations == nil {
		t.Error("Citations must be non-nil for JSON rendering")
	}

	kb := agent.lastInput.RetrieveAndGenerateConfiguration.KnowledgeBaseConfiguration
	if aws.ToString(kb.KnowledgeBaseId) != "KB-default" {
		t.Errorf("fallback kb id = %q", aws.ToString(kb.KnowledgeBaseId))
	}
}

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"ab", 1},
		{"12345678", 2},
	}
	for _, tt := range tests {
		if got := EstimateTokens(tt.in); got != tt.want {
			t.Errorf("EstimateTokens(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
