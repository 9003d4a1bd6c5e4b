package piper

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/voxpipe/voxpipe/pkg/audio"
	"github.com/voxpipe/voxpipe/pkg/synth"
)

// streamMessage is the JSON frame sent to the /api/tts/stream endpoint.
type streamMessage struct {
	Type     string  `json:"type"`
	Text     string  `json:"text"`
	Voice    string  `json:"voice,omitempty"`
	Language string  `json:"language,omitempty"`
	Speed    float64 `json:"speed,omitempty"`
}

// streamChunk is one frame received from the endpoint. Type is "audio_chunk"
// while data flows, "complete" when the utterance is done, or "error".
type streamChunk struct {
	Type       string `json:"type"`
	Data       string `json:"data,omitempty"` // base64 WAV
	SequenceID int    `json:"sequence_id"`
	IsLast     bool   `json:"is_last"`
	Message    string `json:"message,omitempty"`
}

// synthesizeStream runs one utterance over the websocket endpoint and
// reassembles the chunk sequence into a single raw-PCM result.
func (b *Backend) synthesizeStream(ctx context.Context, req synth.Request) (*synth.Result, error) {
	wsURL := strings.Replace(b.baseURL, "http", "ws", 1) + streamEndpoint

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("piper: dial stream endpoint: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	// Chunks are full WAV containers and can be large.
	conn.SetReadLimit(8 << 20)

	msg := streamMessage{
		Type:     "synthesize",
		Text:     req.Text,
		Voice:    req.Params.Voice,
		Language: b.language,
		Speed:    req.Params.Speed,
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("piper: marshal stream message: %w", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
		return nil, fmt.Errorf("piper: send stream message: %w", err)
	}

	var (
		pcm        []byte
		sampleRate int
		channels   int
		nextSeq    int
	)
	for {
		_, raw, err := conn.Read(ctx)
		if err != nil {
			return nil, fmt.Errorf("piper: read stream chunk: %w", err)
		}
		var chunk streamChunk
		if err := json.Unmarshal(raw, &chunk); err != nil {
			return nil, fmt.Errorf("piper: decode stream chunk: %w", err)
		}

		switch chunk.Type {
		case "audio_chunk":
			if chunk.SequenceID != nextSeq {
				return nil, fmt.Errorf("piper: stream chunk out of order: got %d, want %d",
					chunk.SequenceID, nextSeq)
			}
			nextSeq++

			wavBytes, err := base64.StdEncoding.DecodeString(chunk.Data)
			if err != nil {
				return nil, fmt.Errorf("piper: decode chunk payload: %w", err)
			}
			unit := audio.Unit{Encoded: wavBytes}
			if err := unit.Decode(); err != nil {
				return nil, fmt.Errorf("piper: chunk %d: %w", chunk.SequenceID, err)
			}
			if sampleRate == 0 {
				sampleRate = unit.Format.SampleRate
				channels = unit.Format.Channels
			} else if unit.Format.SampleRate != sampleRate || unit.Format.Channels != channels {
				return nil, fmt.Errorf("piper: chunk %d changed format from %s to %s",
					chunk.SequenceID,
					audio.Format{SampleRate: sampleRate, Channels: channels},
					unit.Format)
			}
			pcm = append(pcm, unit.PCM...)

		case "complete":
			if len(pcm) == 0 {
				return nil, errors.New("piper: stream completed without audio")
			}
			samples := len(pcm) / 2 / channels
			return &synth.Result{
				Audio:      pcm,
				Format:     synth.FormatPCM,
				SampleRate: sampleRate,
				Channels:   channels,
				Duration:   time.Duration(samples) * time.Second / time.Duration(sampleRate),
			}, nil

		case "error":
			return nil, fmt.Errorf("piper: stream error: %s", chunk.Message)

		default:
			return nil, fmt.Errorf("piper: unexpected stream frame type %q", chunk.Type)
		}
	}
}
