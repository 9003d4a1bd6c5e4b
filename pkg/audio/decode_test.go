package audio_test

import (
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/voxpipe/voxpipe/pkg/audio"
)

// makeWAV builds a minimal RIFF/WAVE container holding 16-bit PCM.
func makeWAV(samples []int16, sampleRate, channels int) []byte {
	data := samplesToBytes(samples)
	buf := make([]byte, 0, 44+len(data))

	le := binary.LittleEndian
	u32 := func(v uint32) []byte { b := make([]byte, 4); le.PutUint32(b, v); return b }
	u16 := func(v uint16) []byte { b := make([]byte, 2); le.PutUint16(b, v); return b }

	byteRate := sampleRate * channels * 2
	buf = append(buf, "RIFF"...)
	buf = append(buf, u32(uint32(36+len(data)))...)
	buf = append(buf, "WAVE"...)
	buf = append(buf, "fmt "...)
	buf = append(buf, u32(16)...)
	buf = append(buf, u16(1)...) // PCM
	buf = append(buf, u16(uint16(channels))...)
	buf = append(buf, u32(uint32(sampleRate))...)
	buf = append(buf, u32(uint32(byteRate))...)
	buf = append(buf, u16(uint16(channels*2))...) // block align
	buf = append(buf, u16(16)...)                 // bits per sample
	buf = append(buf, "data"...)
	buf = append(buf, u32(uint32(len(data)))...)
	buf = append(buf, data...)
	return buf
}

func TestUnitDecode(t *testing.T) {
	samples := []int16{0, 1000, -1000, 32767, -32768}
	unit := &audio.Unit{
		Sequence: 3,
		Encoded:  makeWAV(samples, 22050, 1),
	}

	if err := unit.Decode(); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !unit.Decoded() {
		t.Fatal("unit should report decoded")
	}
	got := bytesToSamples(unit.PCM)
	if len(got) != len(samples) {
		t.Fatalf("expected %d samples, got %d", len(samples), len(got))
	}
	for i := range samples {
		if got[i] != samples[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], samples[i])
		}
	}
	want := audio.Format{SampleRate: 22050, Channels: 1}
	if unit.Format != want {
		t.Errorf("format: got %s, want %s", unit.Format, want)
	}
}

func TestUnitDecode_Duration(t *testing.T) {
	// 22050 samples at 22050 Hz mono is exactly one second.
	samples := make([]int16, 22050)
	unit := &audio.Unit{Encoded: makeWAV(samples, 22050, 1)}
	if err := unit.Decode(); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if unit.Duration != time.Second {
		t.Errorf("duration: got %v, want %v", unit.Duration, time.Second)
	}
}

func TestUnitDecode_KeepsBackendDuration(t *testing.T) {
	unit := &audio.Unit{
		Encoded:  makeWAV([]int16{1, 2, 3, 4}, 22050, 1),
		Duration: 5 * time.Second,
	}
	if err := unit.Decode(); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if unit.Duration != 5*time.Second {
		t.Errorf("backend-reported duration was overwritten: got %v", unit.Duration)
	}
}

func TestUnitDecode_Idempotent(t *testing.T) {
	unit := &audio.Unit{Encoded: makeWAV([]int16{100, 200}, 22050, 1)}
	if err := unit.Decode(); err != nil {
		t.Fatalf("first Decode: %v", err)
	}
	first := unit.PCM
	if err := unit.Decode(); err != nil {
		t.Fatalf("second Decode: %v", err)
	}
	if &unit.PCM[0] != &first[0] {
		t.Error("second Decode should not re-decode the payload")
	}
}

func TestUnitDecode_Empty(t *testing.T) {
	unit := &audio.Unit{Sequence: 7}
	err := unit.Decode()
	if !errors.Is(err, audio.ErrNoAudio) {
		t.Fatalf("expected ErrNoAudio, got %v", err)
	}
}

func TestUnitDecode_Garbage(t *testing.T) {
	unit := &audio.Unit{Encoded: []byte("definitely not a wav file")}
	if err := unit.Decode(); err == nil {
		t.Fatal("expected error for non-WAV payload")
	}
	if unit.Decoded() {
		t.Error("failed decode should not populate PCM")
	}
}

func TestUnitDecode_Stereo(t *testing.T) {
	samples := []int16{100, 200, 300, 400} // two stereo frames
	unit := &audio.Unit{Encoded: makeWAV(samples, 44100, 2)}
	if err := unit.Decode(); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	want := audio.Format{SampleRate: 44100, Channels: 2}
	if unit.Format != want {
		t.Errorf("format: got %s, want %s", unit.Format, want)
	}
	got := bytesToSamples(unit.PCM)
	for i := range samples {
		if got[i] != samples[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], samples[i])
		}
	}
}
