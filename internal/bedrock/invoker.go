package bedrock

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime"
	agenttypes "github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime/types"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

// converseAPI is the slice of the bedrock-runtime client the invoker uses.
type converseAPI interface {
	Converse(ctx context.Context, in *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
	ConverseStream(ctx context.Context, in *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error)
}

// retrieveAPI is the slice of the bedrock-agent-runtime client the invoker uses.
type retrieveAPI interface {
	RetrieveAndGenerate(ctx context.Context, in *bedrockagentruntime.RetrieveAndGenerateInput, optFns ...func(*bedrockagentruntime.Options)) (*bedrockagentruntime.RetrieveAndGenerateOutput, error)
}

// Citation is one grounded passage of a knowledge-base answer, with the
// source documents it was generated from.
type Citation struct {
	Text       string              `json:"text,omitempty"`
	References []CitationReference `json:"references,omitempty"`
}

// CitationReference points at a retrieved source document.
type CitationReference struct {
	Content  string `json:"content,omitempty"`
	Location string `json:"location,omitempty"`
}

// Result is the normalized outcome of one backend invocation.
//
// Buffered calls fill Content, FinishReason and Usage (plus Citations for the
// knowledge-base family). Streamed calls leave those zero and hand back
// Chunks instead; the channel is forward-only and closes after the terminal
// or error chunk.
type Result struct {
	ModelID      string
	Content      string
	FinishReason string
	Usage        Usage
	Citations    []Citation
	Chunks       <-chan Chunk
}

// InvokerConfig configures an Invoker.
type InvokerConfig struct {
	Runtime *bedrockruntime.Client
	Agent   *bedrockagentruntime.Client

	KnowledgeBaseID string
	// KBNumResults caps retrieval fan-out per KB query. 0 means the
	// service default of 10 documents.
	KBNumResults int32
}

// Invoker performs exactly one Bedrock call per request. It never retries:
// failure handling is the caller's concern, and every error it returns is
// already normalized (*InvokeError or a context error).
type Invoker struct {
	runtime      converseAPI
	agent        retrieveAPI
	kbID         string
	kbNumResults int32
}

func NewInvoker(cfg InvokerConfig) *Invoker {
	return &Invoker{
		runtime:      cfg.Runtime,
		agent:        cfg.Agent,
		kbID:         cfg.KnowledgeBaseID,
		kbNumResults: cfg.KBNumResults,
	}
}

// Invoke dispatches req to the backend API family selected by t. Knowledge-base
// requests are always buffered regardless of req.Stream; direct requests
// stream when req.Stream is set.
//
// For streamed results the returned channel is driven by a goroutine bound to
// ctx; cancelling ctx stops the pump and releases the underlying stream.
func (inv *Invoker) Invoke(ctx context.Context, req *ChatRequest, t Target) (*Result, error) {
	switch t.Family {
	case FamilyKnowledgeBase:
		return inv.retrieveAndGenerate(ctx, req, t)
	case FamilyDirectInvoke:
		if req.Stream {
			return inv.converseStream(ctx, req, t)
		}
		return inv.converse(ctx, req, t)
	default:
		return nil, fmt.Errorf("invoke %s: unknown api family %d", t.ModelID, t.Family)
	}
}

func (inv *Invoker) converse(ctx context.Context, req *ChatRequest, t Target) (*Result, error) {
	out, err := inv.runtime.Converse(ctx, BuildConverseInput(req, t))
	if err != nil {
		return nil, wrapError(err)
	}

	res := &Result{
		ModelID:      t.ModelID,
		FinishReason: mapStopReason(out.StopReason),
	}
	if msg, ok := out.Output.(*types.ConverseOutputMemberMessage); ok {
		for _, block := range msg.Value.Content {
			if text, ok := block.(*types.ContentBlockMemberText); ok {
				res.Content += text.Value
			}
		}
	}
	if out.Usage != nil {
		if out.Usage.InputTokens != nil {
			res.Usage.InputTokens = int(*out.Usage.InputTokens)
		}
		if out.Usage.OutputTokens != nil {
			res.Usage.OutputTokens = int(*out.Usage.OutputTokens)
		}
	}
	return res, nil
}

func (inv *Invoker) converseStream(ctx context.Context, req *ChatRequest, t Target) (*Result, error) {
	out, err := inv.runtime.ConverseStream(ctx, BuildConverseStreamInput(req, t))
	if err != nil {
		return nil, wrapError(err)
	}

	stream := out.GetStream()
	ch := make(chan Chunk)
	go func() {
		defer close(ch)
		defer stream.Close()
		pumpConverseStream(ctx, stream.Events(), stream.Err, ch)
	}()

	return &Result{ModelID: t.ModelID, Chunks: ch}, nil
}

func (inv *Invoker) retrieveAndGenerate(ctx context.Context, req *ChatRequest, t Target) (*Result, error) {
	out, err := inv.agent.RetrieveAndGenerate(ctx, BuildRetrieveInput(req, t, inv.kbID, inv.kbNumResults))
	if err != nil {
		return nil, wrapError(err)
	}

	res := &Result{
		ModelID:      t.ModelID,
		FinishReason: "stop",
		Citations:    mapCitations(out.Citations),
	}
	if out.Output != nil {
		res.Content = aws.ToString(out.Output.Text)
	}
	// RetrieveAndGenerate reports no token usage; estimate the completion
	// side at ~4 chars per token so clients still see a nonzero count.
	res.Usage.OutputTokens = EstimateTokens(res.Content)
	return res, nil
}

// RetrieveRequest is the native retrieve-and-generate passthrough shape.
type RetrieveRequest struct {
	Input struct {
		Text string `json:"text"`
	} `json:"input"`
	KnowledgeBaseID string `json:"knowledgeBaseId,omitempty"`
	ModelARN        string `json:"modelArn,omitempty"`
	NumberOfResults int32  `json:"numberOfResults,omitempty"`
}

// RetrieveResult mirrors the native retrieveAndGenerate response.
type RetrieveResult struct {
	Output struct {
		Text string `json:"text"`
	} `json:"output"`
	Citations []Citation `json:"citations"`
}

// Retrieve serves the native retrieve-and-generate passthrough. Unlike chat
// requests it takes the knowledge-base wiring straight from the request body,
// falling back to the invoker's configuration.
func (inv *Invoker) Retrieve(ctx context.Context, req *RetrieveRequest, t Target) (*RetrieveResult, error) {
	kbID := req.KnowledgeBaseID
	if kbID == "" {
		kbID = inv.kbID
	}
	numResults := req.NumberOfResults
	if numResults <= 0 {
		numResults = inv.kbNumResults
	}
	if req.ModelARN != "" {
		t.ModelARN = req.ModelARN
	}

	chat := &ChatRequest{Messages: []Message{{Role: "user", Content: req.Input.Text}}}
	out, err := inv.agent.RetrieveAndGenerate(ctx, BuildRetrieveInput(chat, t, kbID, numResults))
	if err != nil {
		return nil, wrapError(err)
	}

	res := &RetrieveResult{Citations: mapCitations(out.Citations)}
	if res.Citations == nil {
		res.Citations = []Citation{}
	}
	if out.Output != nil {
		res.Output.Text = aws.ToString(out.Output.Text)
	}
	return res, nil
}

func mapCitations(citations []agenttypes.Citation) []Citation {
	if len(citations) == 0 {
		return nil
	}
	out := make([]Citation, 0, len(citations))
	for _, c := range citations {
		mapped := Citation{}
		if part := c.GeneratedResponsePart; part != nil && part.TextResponsePart != nil {
			mapped.Text = aws.ToString(part.TextResponsePart.Text)
		}
		for _, ref := range c.RetrievedReferences {
			r := CitationReference{Location: referenceLocation(ref.Location)}
			if ref.Content != nil {
				r.Content = aws.ToString(ref.Content.Text)
			}
			mapped.References = append(mapped.References, r)
		}
		out = append(out, mapped)
	}
	return out
}

func referenceLocation(loc *agenttypes.RetrievalResultLocation) string {
	if loc == nil {
		return ""
	}
	if loc.S3Location != nil {
		return aws.ToString(loc.S3Location.Uri)
	}
	if loc.WebLocation != nil {
		return aws.ToString(loc.WebLocation.Url)
	}
	return ""
}

// EstimateTokens approximates a token count for text with no backend-reported
// usage, at roughly 4 characters per token.
func EstimateTokens(s string) int {
	if s == "" {
		return 0
	}
	n := len(s) / 4
	if n == 0 {
		n = 1
	}
	return n
}
