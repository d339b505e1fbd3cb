package bedrock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

func textDelta(s string) types.ConverseStreamOutput {
	return &types.ConverseStreamOutputMemberContentBlockDelta{
		Value: types.ContentBlockDeltaEvent{
			Delta: &types.ContentBlockDeltaMemberText{Value: s},
		},
	}
}

func messageStop(reason types.StopReason) types.ConverseStreamOutput {
	return &types.ConverseStreamOutputMemberMessageStop{
		Value: types.MessageStopEvent{StopReason: reason},
	}
}

func usageMetadata(in, out int32) types.ConverseStreamOutput {
	return &types.ConverseStreamOutputMemberMetadata{
		Value: types.ConverseStreamMetadataEvent{
			Usage: &types.TokenUsage{
				InputTokens:  aws.Int32(in),
				OutputTokens: aws.Int32(out),
			},
		},
	}
}

func runPump(t *testing.T, events []types.ConverseStreamOutput, streamErr error) []Chunk {
	t.Helper()

	in := make(chan types.ConverseStreamOutput, len(events))
	for _, ev := range events {
		in <- ev
	}
	close(in)

	out := make(chan Chunk)
	go func() {
		defer close(out)
		pumpConverseStream(context.Background(), in, func() error { return streamErr }, out)
	}()

	var got []Chunk
	for c := range out {
		got = append(got, c)
	}
	return got
}

func TestPumpConverseStream_DeltasThenTerminal(t *testing.T) {
	got := runPump(t, []types.ConverseStreamOutput{
		textDelta("Hel"),
		textDelta("lo"),
		messageStop(types.StopReasonMaxTokens),
		usageMetadata(12, 34),
	}, nil)

	if len(got) != 3 {
		t.Fatalf("got %d chunks, want 3", len(got))
	}
	if got[0].Delta != "Hel" || got[1].Delta != "lo" {
		t.Errorf("deltas = %q, %q", got[0].Delta, got[1].Delta)
	}
	last := got[2]
	if last.Delta != "" || last.FinishReason != "length" {
		t.Errorf("terminal chunk = %+v, want finish_reason length", last)
	}
	if last.Usage.InputTokens != 12 || last.Usage.OutputTokens != 34 {
		t.Errorf("terminal usage = %+v", last.Usage)
	}
}

func TestPumpConverseStream_NoStopEventDefaultsToStop(t *testing.T) {
	got := runPump(t, []types.ConverseStreamOutput{textDelta("x")}, nil)
	if len(got) != 2 {
		t.Fatalf("got %d chunks, want 2", len(got))
	}
	if got[1].FinishReason != "stop" {
		t.Errorf("FinishReason = %q, want stop", got[1].FinishReason)
	}
}

func TestPumpConverseStream_EmptyDeltasSkipped(t *testing.T) {
	got := runPump(t, []types.ConverseStreamOutput{
		textDelta(""),
		textDelta("ok"),
		messageStop(types.StopReasonEndTurn),
	}, nil)
	if len(got) != 2 {
		t.Fatalf("got %d chunks, want 2 (empty delta dropped)", len(got))
	}
	if got[0].Delta != "ok" {
		t.Errorf("first chunk = %+v", got[0])
	}
}

func TestPumpConverseStream_MidStreamError(t *testing.T) {
	streamErr := errors.New("connection reset")
	got := runPump(t, []types.ConverseStreamOutput{textDelta("parti")}, streamErr)

	if len(got) != 2 {
		t.Fatalf("got %d chunks, want 2", len(got))
	}
	last := got[1]
	if last.Err == nil {
		t.Fatal("expected an error chunk")
	}
	if last.FinishReason != "" {
		t.Errorf("error chunk carries FinishReason %q", last.FinishReason)
	}
	var invokeErr *InvokeError
	if !errors.As(last.Err, &invokeErr) {
		t.Errorf("error chunk not normalized: %v", last.Err)
	}
}

func TestPumpConverseStream_ContextCancelStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	in := make(chan types.ConverseStreamOutput) // never closed, never fed
	out := make(chan Chunk)

	done := make(chan struct{})
	go func() {
		defer close(done)
		pumpConverseStream(ctx, in, func() error { return nil }, out)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pump did not stop on context cancellation")
	}
}

func TestMapStopReason(t *testing.T) {
	tests := []struct {
		reason types.StopReason
		want   string
	}{
		{types.StopReasonEndTurn, "stop"},
		{types.StopReasonStopSequence, "stop"},
		{types.StopReasonToolUse, "stop"},
		{types.StopReasonMaxTokens, "length"},
		{types.StopReasonContentFiltered, "content_filter"},
		{types.StopReasonGuardrailIntervened, "content_filter"},
		{types.StopReason("something_new"), "stop"},
	}

	for _, tt := range tests {
		t.Run(string(tt.reason), func(t *testing.T) {
			if got := mapStopReason(tt.reason); got != tt.want {
				t.Errorf("mapStopReason(%q) = %q, want %q", tt.reason, got, tt.want)
			}
		})
	}
}
