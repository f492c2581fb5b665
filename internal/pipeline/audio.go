package pipeline

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
)

// Narration payloads arrive as base64-encoded raw PCM with fixed
// sample parameters.
const (
	audioChannels   = 1
	audioSampleRate = 24000
	audioBitDepth   = 16
)

var errEmptyAudio = errors.New("empty audio payload")

// decodeNarration turns the provider's base64 payload into raw PCM
// samples.
func decodeNarration(encoded []byte) ([]byte, error) {
	if len(encoded) == 0 {
		return nil, errEmptyAudio
	}
	pcm := make([]byte, base64.StdEncoding.DecodedLen(len(encoded)))
	n, err := base64.StdEncoding.Decode(pcm, encoded)
	if err != nil {
		return nil, fmt.Errorf("decode narration: %w", err)
	}
	if n == 0 {
		return nil, errEmptyAudio
	}
	return pcm[:n], nil
}

// encodeWAV wraps raw PCM samples in a RIFF/WAVE container so the
// payload is playable as stored.
func encodeWAV(pcm []byte, channels, sampleRate, bitDepth int) []byte {
	blockAlign := channels * bitDepth / 8
	byteRate := sampleRate * blockAlign

	var buf bytes.Buffer
	buf.Grow(44 + len(pcm))

	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(channels))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(&buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(&buf, binary.LittleEndian, uint16(bitDepth))

	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)

	return buf.Bytes()
}
