package audio

import (
	"bytes"
	"fmt"
	"time"

	"github.com/go-audio/wav"
)

// Decode parses the unit's encoded WAV payload into S16LE PCM, filling in
// PCM, Format, and (when missing) Duration. Decode is idempotent: if the
// unit already carries PCM it returns nil without touching the payload, so
// pre-decoded units pass through unchanged.
func (u *Unit) Decode() error {
	if u.Decoded() {
		return nil
	}
	if len(u.Encoded) == 0 {
		return ErrNoAudio
	}

	dec := wav.NewDecoder(bytes.NewReader(u.Encoded))
	if !dec.IsValidFile() {
		return fmt.Errorf("audio: sequence %d: not a valid WAV payload", u.Sequence)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return fmt.Errorf("audio: sequence %d: decode WAV: %w", u.Sequence, err)
	}
	if buf.Format == nil || buf.Format.SampleRate <= 0 || buf.Format.NumChannels <= 0 {
		return fmt.Errorf("audio: sequence %d: WAV payload missing format information", u.Sequence)
	}

	// go-audio delivers samples as ints at the source bit depth; normalise
	// everything to signed 16-bit little-endian for the output device.
	shift := int(dec.BitDepth) - 16
	pcm := make([]byte, 0, len(buf.Data)*2)
	for _, s := range buf.Data {
		v := s
		switch {
		case shift > 0:
			v >>= shift
		case shift < 0:
			v <<= -shift
		}
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		pcm = append(pcm, byte(v), byte(v>>8))
	}

	u.PCM = pcm
	u.Format = Format{
		SampleRate: buf.Format.SampleRate,
		Channels:   buf.Format.NumChannels,
	}
	if u.Duration == 0 {
		samples := len(buf.Data) / buf.Format.NumChannels
		u.Duration = time.Duration(samples) * time.Second / time.Duration(buf.Format.SampleRate)
	}
	return nil
}
