package bedrock

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

// Usage holds token counts reported by the backend.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Chunk is one unit of a streamed response. Exactly one of three shapes:
//
//   - a text delta (Delta non-empty, FinishReason empty)
//   - the terminal chunk (FinishReason non-empty, cumulative Usage, no Delta)
//   - an error chunk (Err non-nil), which is always the last one delivered
//
// Chunks arrive in backend delivery order, one per native delta, and the
// channel closes after the terminal or error chunk.
type Chunk struct {
	Delta        string
	FinishReason string
	Usage        Usage
	Err          error
}

// mapStopReason folds Bedrock stop reasons into the fixed client vocabulary
// {stop, length, content_filter}. Anything unrecognized is reported as a
// normal stop.
func mapStopReason(reason types.StopReason) string {
	switch reason {
	case types.StopReasonMaxTokens:
		return "length"
	case types.StopReasonContentFiltered, types.StopReasonGuardrailIntervened:
		return "content_filter"
	case types.StopReasonEndTurn, types.StopReasonStopSequence, types.StopReasonToolUse:
		return "stop"
	default:
		return "stop"
	}
}

// pumpConverseStream forwards native ConverseStream events as Chunks until
// the event channel drains or ctx is cancelled. It buffers at most the chunk
// in flight: each text delta is sent as soon as it arrives, and the stop
// reason and usage (which Bedrock delivers as separate trailing events) are
// combined into one terminal chunk after the event channel closes.
//
// streamErr is consulted once the events channel closes; a non-nil result
// replaces the terminal chunk with an error chunk so a mid-stream failure is
// never silently truncated.
//
// On ctx cancellation the pump stops consuming immediately and sends nothing
// further; the caller closes the underlying event stream.
func pumpConverseStream(
	ctx context.Context,
	events <-chan types.ConverseStreamOutput,
	streamErr func() error,
	out chan<- Chunk,
) {
	finish := ""
	var usage Usage

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-events:
			if !ok {
				if err := streamErr(); err != nil {
					send(ctx, out, Chunk{Err: wrapError(err)})
					return
				}
				if finish == "" {
					finish = "stop"
				}
				send(ctx, out, Chunk{FinishReason: finish, Usage: usage})
				return
			}

			switch v := ev.(type) {
			case *types.ConverseStreamOutputMemberContentBlockDelta:
				if d, ok := v.Value.Delta.(*types.ContentBlockDeltaMemberText); ok && d.Value != "" {
					if !send(ctx, out, Chunk{Delta: d.Value}) {
						return
					}
				}

			case *types.ConverseStreamOutputMemberMessageStop:
				finish = mapStopReason(v.Value.StopReason)

			case *types.ConverseStreamOutputMemberMetadata:
				if u := v.Value.Usage; u != nil {
					if u.InputTokens != nil {
						usage.InputTokens = int(*u.InputTokens)
					}
					if u.OutputTokens != nil {
						usage.OutputTokens = int(*u.OutputTokens)
					}
				}
			}
		}
	}
}

// send delivers c unless ctx is done first. Reports whether c was delivered.
func send(ctx context.Context, out chan<- Chunk, c Chunk) bool {
	select {
	case out <- c:
		return true
	case <-ctx.Done():
		return false
	}
}
