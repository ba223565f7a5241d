// Package mcpserver exposes voxend as a Model Context Protocol tool server,
// so an agent can ask for the instruction spoken in an audio file.
package mcpserver

import (
	"context"
	"fmt"
	"log/slog"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/voxend/internal/app"
	"github.com/MrWong99/voxend/internal/endpoint"
	"github.com/MrWong99/voxend/pkg/audio"
)

// ToolName is the name of the single tool the server registers.
const ToolName = "transcribe_instruction"

// Processor runs one detection and transcription. [*app.Service] satisfies it.
type Processor interface {
	Process(ctx context.Context, session string, src audio.ChunkSource) (app.Result, error)
	Endpoint() (endpoint.Config, int)
}

// TranscribeInput is the argument of the transcribe_instruction tool.
type TranscribeInput struct {
	Path    string `json:"path" jsonschema:"path of a 16-bit PCM WAV file readable by the server"`
	Session string `json:"session,omitempty" jsonschema:"optional session name to log the utterance under"`
}

// TranscribeOutput is the structured result of the tool.
type TranscribeOutput struct {
	Text       string `json:"text"`
	NoSpeech   bool   `json:"no_speech"`
	Reason     string `json:"reason"`
	Start      int    `json:"start"`
	End        int    `json:"end"`
	SampleRate int    `json:"sample_rate"`
	DurationMs int64  `json:"duration_ms"`
}

// New returns an MCP server with the transcribe_instruction tool bound to p.
func New(p Processor, version string) *mcpsdk.Server {
	srv := mcpsdk.NewServer(&mcpsdk.Implementation{Name: "voxend", Version: version}, nil)
	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name: ToolName,
		Description: "Detect the first spoken instruction in a WAV file and return its text. " +
			"Speech ends after the configured trailing silence or at the end of the file.",
	}, handler(p))
	return srv
}

func handler(p Processor) func(context.Context, *mcpsdk.CallToolRequest, TranscribeInput) (*mcpsdk.CallToolResult, TranscribeOutput, error) {
	return func(ctx context.Context, _ *mcpsdk.CallToolRequest, in TranscribeInput) (*mcpsdk.CallToolResult, TranscribeOutput, error) {
		if in.Path == "" {
			return nil, TranscribeOutput{}, fmt.Errorf("path is required")
		}
		cfg, _ := p.Endpoint()
		src, err := audio.OpenFile(in.Path,
			audio.WithChunkMs(cfg.ChunkDurationMs),
			audio.WithTargetRate(cfg.SampleRate),
		)
		if err != nil {
			return nil, TranscribeOutput{}, err
		}

		res, err := p.Process(ctx, in.Session, src)
		out := TranscribeOutput{
			Text:       res.Text,
			Reason:     res.Reason,
			Start:      res.Start,
			End:        res.End,
			SampleRate: res.SampleRate,
			DurationMs: res.DurationMs,
		}
		switch {
		case endpoint.IsNoSpeech(err):
			out.NoSpeech = true
			return nil, out, nil
		case err != nil:
			return nil, TranscribeOutput{}, err
		}
		slog.Debug("mcp: instruction transcribed", "path", in.Path, "chars", len(out.Text))
		return nil, out, nil
	}
}

// Run serves the tool over stdio until ctx is cancelled or the client
// disconnects.
func Run(ctx context.Context, p Processor, version string) error {
	if err := New(p, version).Run(ctx, &mcpsdk.StdioTransport{}); err != nil {
		return fmt.Errorf("mcpserver: %w", err)
	}
	return nil
}
