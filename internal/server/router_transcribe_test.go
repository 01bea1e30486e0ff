package server

import (
	"bytes"
	contextpkg "context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/verbatimlab/verbatim/backend/internal/transcription"
)

type recordingTranscriber struct {
	result   transcription.Result
	err      error
	userID   string
	audio    []byte
	filename string
	opts     transcription.Options
}

func (t *recordingTranscriber) Transcribe(ctx contextpkg.Context, userID string, audio []byte, filenameHint string, opts transcription.Options) (transcription.Result, error) {
	t.userID = userID
	t.audio = audio
	t.filename = filenameHint
	t.opts = opts
	return t.result, t.err
}

func buildUploadRequest(t *testing.T, filename string, payload []byte, fields map[string]string) *http.Request {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("failed to create form file: %v", err)
	}
	if _, err := part.Write(payload); err != nil {
		t.Fatalf("failed to write audio payload: %v", err)
	}
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			t.Fatalf("failed to write field %s: %v", key, err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close multipart writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/transcribe", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return authorized(req)
}

func TestTranscribeReturnsText(t *testing.T) {
	transcriber := &recordingTranscriber{result: transcription.Result{Text: "hello world"}}
	handler := newTestRouter(t, routerOverrides{transcriber: transcriber})

	req := buildUploadRequest(t, "note.mp3", []byte("audio bytes"), map[string]string{
		"language": "de",
		"format":   "text",
	})
	recorder := performRequest(handler, req)

	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", recorder.Code, recorder.Body.String())
	}
	var response struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response.Text != "hello world" {
		t.Fatalf("unexpected text %q", response.Text)
	}
	if transcriber.userID != "user-1" {
		t.Fatalf("unexpected user id %q", transcriber.userID)
	}
	if transcriber.filename != "note.mp3" {
		t.Fatalf("unexpected filename hint %q", transcriber.filename)
	}
	if string(transcriber.audio) != "audio bytes" {
		t.Fatalf("audio payload was not forwarded intact")
	}
	if transcriber.opts.Language != "de" || transcriber.opts.Format != "text" {
		t.Fatalf("options were not forwarded: %+v", transcriber.opts)
	}
}

func TestTranscribeRejectsMissingFile(t *testing.T) {
	handler := newTestRouter(t, routerOverrides{})

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	if err := writer.WriteField("language", "en"); err != nil {
		t.Fatalf("failed to write field: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close multipart writer: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/transcribe", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	recorder := performRequest(handler, authorized(req))

	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status %d", recorder.Code)
	}
}

func TestTranscribeStatusCodes(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{name: "unsupported format", err: transcription.ErrUnsupportedFormat, wantStatus: http.StatusBadRequest},
		{name: "file too large", err: transcription.ErrFileTooLarge, wantStatus: http.StatusBadRequest},
		{name: "empty upload", err: transcription.ErrEmptyUpload, wantStatus: http.StatusBadRequest},
		{name: "insufficient credits", err: transcription.ErrInsufficientCredits, wantStatus: http.StatusPaymentRequired},
		{name: "upstream failure", err: errors.New("upstream timeout"), wantStatus: http.StatusInternalServerError},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			handler := newTestRouter(t, routerOverrides{
				transcriber: &recordingTranscriber{err: tc.err},
			})

			req := buildUploadRequest(t, "note.mp3", []byte("audio bytes"), nil)
			recorder := performRequest(handler, req)

			if recorder.Code != tc.wantStatus {
				t.Fatalf("got status %d, want %d", recorder.Code, tc.wantStatus)
			}
		})
	}
}
