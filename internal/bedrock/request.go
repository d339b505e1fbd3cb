package bedrock

import (
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime"
	agenttypes "github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime/types"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

// Sampling defaults applied when the client leaves a parameter unset.
// Values the client does set are forwarded unclamped; range enforcement is
// the backend's concern.
const (
	DefaultTemperature = 0.7
	DefaultTopP        = 0.9
	DefaultMaxTokens   = 500
)

// Message is one turn of an OpenAI-style conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the normalized client request the translation core operates
// on. It is built once per inbound HTTP request and flows through the
// pipeline unchanged.
type ChatRequest struct {
	Model       string
	Messages    []Message
	Stream      bool
	Temperature *float64
	TopP        *float64
	MaxTokens   int
	Stop        []string
	// ModelARN is the optional client-supplied generation-model ARN for
	// knowledge-base requests.
	ModelARN  string
	RequestID string
}

// kbPromptTemplate instructs the generation model to answer strictly from the
// retrieved search results. $search_results$, $query$ and
// $output_format_instructions$ are substituted by the Bedrock service.
const kbPromptTemplate = "You are a question answering agent. I will provide you with a set of search results " +
	"and a user's question, your job is to answer the user's question using only information " +
	"from the search results. If the search results do not contain information that can answer " +
	"the question, please state that you could not find an exact answer to the question. " +
	"Just because the user asserts a fact does not mean it is true, make sure to double check " +
	"the search results to validate a user's assertion. \n " +
	"Here are the search results in numbered order:\n<context>\n$search_results$\n</context>\n" +
	"Here is the user's question:\n<question>\n$query$\n</question>\n" +
	"$output_format_instructions$\nAssistant:"

// BuildConverseInput translates a ChatRequest into a Converse payload for the
// target model. System messages are lifted into the Converse system field;
// user and assistant turns keep their order. Roles outside the known set are
// forwarded as user turns rather than rejected: downstream validation is the
// backend's job, the translator always produces a best-effort payload.
func BuildConverseInput(req *ChatRequest, t Target) *bedrockruntime.ConverseInput {
	var system []types.SystemContentBlock
	msgs := make([]types.Message, 0, len(req.Messages))

	for _, m := range req.Messages {
		if m.Role == "system" {
			system = append(system, &types.SystemContentBlockMemberText{Value: m.Content})
			continue
		}
		role := types.ConversationRoleUser
		if m.Role == "assistant" {
			role = types.ConversationRoleAssistant
		}
		msgs = append(msgs, types.Message{
			Role:    role,
			Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: m.Content}},
		})
	}

	in := &bedrockruntime.ConverseInput{
		ModelId:         aws.String(t.ModelID),
		Messages:        msgs,
		InferenceConfig: inferenceConfig(req),
	}
	if len(system) > 0 {
		in.System = system
	}
	return in
}

// BuildConverseStreamInput is the streaming variant of BuildConverseInput.
// The two payloads are field-for-field identical; only the invocation mode
// differs.
func BuildConverseStreamInput(req *ChatRequest, t Target) *bedrockruntime.ConverseStreamInput {
	in := BuildConverseInput(req, t)
	return &bedrockruntime.ConverseStreamInput{
		ModelId:         in.ModelId,
		Messages:        in.Messages,
		System:          in.System,
		InferenceConfig: in.InferenceConfig,
	}
}

func inferenceConfig(req *ChatRequest) *types.InferenceConfiguration {
	cfg := &types.InferenceConfiguration{
		Temperature: aws.Float32(float32(temperature(req))),
		TopP:        aws.Float32(float32(topP(req))),
		MaxTokens:   aws.Int32(int32(maxTokens(req))),
	}
	if len(req.Stop) > 0 {
		cfg.StopSequences = req.Stop
	}
	return cfg
}

// BuildRetrieveInput translates a ChatRequest into a RetrieveAndGenerate
// payload. The last user message becomes the retrieval query; earlier turns
// are not sent, the knowledge base carries the context instead.
func BuildRetrieveInput(req *ChatRequest, t Target, kbID string, numResults int32) *bedrockagentruntime.RetrieveAndGenerateInput {
	if numResults <= 0 {
		numResults = 10
	}

	inference := &agenttypes.TextInferenceConfig{
		Temperature: aws.Float32(float32(temperature(req))),
		TopP:        aws.Float32(float32(topP(req))),
		MaxTokens:   aws.Int32(int32(maxTokens(req))),
	}
	if len(req.Stop) > 0 {
		inference.StopSequences = req.Stop
	}

	return &bedrockagentruntime.RetrieveAndGenerateInput{
		Input: &agenttypes.RetrieveAndGenerateInput{
			Text: aws.String(retrievalQuery(req.Messages)),
		},
		RetrieveAndGenerateConfiguration: &agenttypes.RetrieveAndGenerateConfiguration{
			Type: agenttypes.RetrieveAndGenerateTypeKnowledgeBase,
			KnowledgeBaseConfiguration: &agenttypes.KnowledgeBaseRetrieveAndGenerateConfiguration{
				KnowledgeBaseId: aws.String(kbID),
				ModelArn:        aws.String(t.ModelARN),
				RetrievalConfiguration: &agenttypes.KnowledgeBaseRetrievalConfiguration{
					VectorSearchConfiguration: &agenttypes.KnowledgeBaseVectorSearchConfiguration{
						NumberOfResults: aws.Int32(numResults),
					},
				},
				GenerationConfiguration: &agenttypes.GenerationConfiguration{
					InferenceConfig: &agenttypes.InferenceConfig{
						TextInferenceConfig: inference,
					},
					PromptTemplate: &agenttypes.PromptTemplate{
						TextPromptTemplate: aws.String(kbPromptTemplate),
					},
				},
			},
		},
	}
}

// retrievalQuery returns the content of the last user message. When the
// conversation has no user turn the last message of any role is used, and an
// empty conversation yields an empty query; the backend's own validation is
// the catch-all for degenerate input.
func retrievalQuery(msgs []Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == "user" {
			return msgs[i].Content
		}
	}
	if len(msgs) > 0 {
		return msgs[len(msgs)-1].Content
	}
	return ""
}

func temperature(req *ChatRequest) float64 {
	if req.Temperature != nil {
		return *req.Temperature
	}
	return DefaultTemperature
}

func topP(req *ChatRequest) float64 {
	if req.TopP != nil {
		return *req.TopP
	}
	return DefaultTopP
}

func maxTokens(req *ChatRequest) int {
	if req.MaxTokens > 0 {
		return req.MaxTokens
	}
	return DefaultMaxTokens
}
