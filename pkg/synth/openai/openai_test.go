package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/voxpipe/voxpipe/pkg/synth"
)

func TestNew(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Error("New with empty apiKey: expected error, got nil")
	}
	if _, err := New("sk-test"); err != nil {
		t.Errorf("New: %v", err)
	}
}

func TestSynthesize_MockServer(t *testing.T) {
	wantAudio := []byte("RIFF-pretend-wav-bytes")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/speech" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("unexpected authorization header %q", got)
		}
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req["input"] != "Hello there." {
			t.Errorf("expected normalised text, got %q", req["input"])
		}
		if req["voice"] != "nova" {
			t.Errorf("unexpected voice %q", req["voice"])
		}
		if req["response_format"] != "wav" {
			t.Errorf("expected wav response format, got %q", req["response_format"])
		}
		if req["speed"] != 1.5 {
			t.Errorf("expected speed 1.5, got %v", req["speed"])
		}
		w.Header().Set("Content-Type", "audio/wav")
		w.Write(wantAudio)
	}))
	defer srv.Close()

	b, err := New("sk-test", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	res, err := b.Synthesize(context.Background(), synth.Request{
		Text:   "  Hello   there. ",
		Params: synth.VoiceParams{Voice: "nova", Speed: 1.5},
	})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(res.Audio) != string(wantAudio) {
		t.Errorf("audio = %q, want %q", res.Audio, wantAudio)
	}
	if res.Format != synth.FormatWAV {
		t.Errorf("format = %q, want %q", res.Format, synth.FormatWAV)
	}
}

func TestSynthesize_DefaultVoice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req["voice"] != defaultVoice {
			t.Errorf("voice = %q, want %q", req["voice"], defaultVoice)
		}
		if _, ok := req["speed"]; ok {
			t.Error("expected speed omitted when zero")
		}
		w.Write([]byte("audio"))
	}))
	defer srv.Close()

	b, err := New("sk-test", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := b.Synthesize(context.Background(), synth.Request{Text: "Hi there."}); err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
}

func TestSynthesize_RejectsInvalidText(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	b, err := New("sk-test", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = b.Synthesize(context.Background(), synth.Request{Text: "   "})
	var rej *synth.RejectionError
	if !errors.As(err, &rej) {
		t.Fatalf("expected RejectionError, got %v", err)
	}
	if called {
		t.Error("invalid text must not reach the endpoint")
	}
}

func TestSynthesize_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"invalid voice"}}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	b, err := New("sk-test", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := b.Synthesize(context.Background(), synth.Request{Text: "Hi there."}); err == nil {
		t.Error("expected error from failing endpoint, got nil")
	}
}

func TestListVoices(t *testing.T) {
	b, err := New("sk-test")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got, err := b.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("ListVoices: %v", err)
	}
	if len(got) != len(voices) {
		t.Fatalf("got %d voices, want %d", len(got), len(voices))
	}
	if got[0].ID != "alloy" {
		t.Errorf("first voice = %q, want alloy", got[0].ID)
	}
}
