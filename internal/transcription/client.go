package transcription

import "context"

// Defaults applied to transcription options the caller leaves blank.
const (
	DefaultModel    = "whisper-1"
	DefaultLanguage = "en"
	DefaultFormat   = "text"
)

// Request carries one audio payload and its transcription options.
type Request struct {
	Audio    []byte
	Filename string
	Model    string
	Language string
	Prompt   string
	Format   string
}

// Result is the collaborator's transcription output.
type Result struct {
	Text string
}

// Client is the speech-to-text collaborator.
type Client interface {
	Transcribe(ctx context.Context, req Request) (Result, error)
}
