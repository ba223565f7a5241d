package mcpserver_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/voxend/internal/app"
	"github.com/MrWong99/voxend/internal/endpoint"
	"github.com/MrWong99/voxend/internal/mcpserver"
	"github.com/MrWong99/voxend/pkg/audio"
	"github.com/MrWong99/voxend/pkg/provider/stt"
	sttmock "github.com/MrWong99/voxend/pkg/provider/stt/mock"
	"github.com/MrWong99/voxend/pkg/provider/vad"
	vadmock "github.com/MrWong99/voxend/pkg/provider/vad/mock"
)

const rate = 1000

func writeWAV(t *testing.T, chunks int) string {
	t.Helper()
	samples := make([]int16, chunks*rate/5)
	path := filepath.Join(t.TempDir(), "in.wav")
	if err := os.WriteFile(path, audio.EncodeWAV(audio.Int16sToBytes(samples), rate, 1), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func connect(t *testing.T, script []vad.Activity) *mcpsdk.ClientSession {
	t.Helper()
	ctx := context.Background()
	svc, err := app.NewService(app.ServiceConfig{
		Endpoint: endpoint.Config{ChunkDurationMs: 200, MuteTimeMs: 400, SampleRate: rate},
		VAD:      &vadmock.Engine{Script: script},
		STT:      &sttmock.Provider{Result: stt.Transcript{Text: "call mom"}},
	})
	if err != nil {
		t.Fatal(err)
	}

	ct, st := mcpsdk.NewInMemoryTransports()
	ss, err := mcpserver.New(svc, "test").Connect(ctx, st, nil)
	if err != nil {
		t.Fatalf("server connect: %v", err)
	}
	t.Cleanup(func() { _ = ss.Close() })

	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "test-client", Version: "v0"}, nil)
	cs, err := client.Connect(ctx, ct, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { _ = cs.Close() })
	return cs
}

func call(t *testing.T, cs *mcpsdk.ClientSession, args map[string]any) (*mcpsdk.CallToolResult, mcpserver.TranscribeOutput) {
	t.Helper()
	res, err := cs.CallTool(context.Background(), &mcpsdk.CallToolParams{Name: mcpserver.ToolName, Arguments: args})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	var out mcpserver.TranscribeOutput
	if res.IsError {
		return res, out
	}
	raw, err := json.Marshal(res.StructuredContent)
	if err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("structured content: %v", err)
	}
	return res, out
}

func TestTool_ListsTranscribeInstruction(t *testing.T) {
	t.Parallel()
	cs := connect(t, nil)
	tools, err := cs.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(tools.Tools) != 1 || tools.Tools[0].Name != mcpserver.ToolName {
		t.Errorf("tools = %+v", tools.Tools)
	}
}

func TestTool_Transcribes(t *testing.T) {
	t.Parallel()
	cs := connect(t, []vad.Activity{vad.Edges{vad.Span(20, 180)}})
	_, out := call(t, cs, map[string]any{"path": writeWAV(t, 6)})
	if out.Text != "call mom" || out.NoSpeech || out.Start != 20 || out.End != 180 {
		t.Errorf("output = %+v", out)
	}
}

func TestTool_NoSpeech(t *testing.T) {
	t.Parallel()
	cs := connect(t, nil)
	res, out := call(t, cs, map[string]any{"path": writeWAV(t, 6)})
	if res.IsError || !out.NoSpeech || out.Text != "" || out.Reason != string(endpoint.ReasonSilenceTimeout) {
		t.Errorf("output = %+v, isError %v", out, res.IsError)
	}
}

func TestTool_Errors(t *testing.T) {
	t.Parallel()
	cs := connect(t, nil)
	for _, args := range []map[string]any{
		{"path": ""},
		{"path": filepath.Join(t.TempDir(), "missing.wav")},
	} {
		res, err := cs.CallTool(context.Background(), &mcpsdk.CallToolParams{Name: mcpserver.ToolName, Arguments: args})
		if err == nil && !res.IsError {
			t.Errorf("args %v: expected a tool error", args)
		}
	}
}
