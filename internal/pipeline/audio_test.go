package pipeline

import (
	"encoding/base64"
	"encoding/binary"
	"testing"
	"time"
)

func TestDecodeNarration(t *testing.T) {
	t.Parallel()
	pcm := []byte{1, 2, 3, 4, 5, 6}
	encoded := []byte(base64.StdEncoding.EncodeToString(pcm))

	got, err := decodeNarration(encoded)
	if err != nil {
		t.Fatalf("decodeNarration: %v", err)
	}
	if string(got) != string(pcm) {
		t.Fatalf("decoded %v, want %v", got, pcm)
	}

	if _, err := decodeNarration(nil); err == nil {
		t.Fatal("expected error for empty payload")
	}
	if _, err := decodeNarration([]byte("!!not-base64!!")); err == nil {
		t.Fatal("expected error for invalid base64")
	}
}

func TestEncodeWAVHeader(t *testing.T) {
	t.Parallel()
	pcm := make([]byte, 480) // 10ms of mono 24kHz 16-bit
	wav := encodeWAV(pcm, audioChannels, audioSampleRate, audioBitDepth)

	if len(wav) != 44+len(pcm) {
		t.Fatalf("wav length = %d, want %d", len(wav), 44+len(pcm))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		t.Fatalf("bad container magic: %q %q", wav[0:4], wav[8:12])
	}
	if string(wav[12:16]) != "fmt " || string(wav[36:40]) != "data" {
		t.Fatalf("bad chunk ids: %q %q", wav[12:16], wav[36:40])
	}
	if ch := binary.LittleEndian.Uint16(wav[22:24]); ch != audioChannels {
		t.Fatalf("channels = %d, want %d", ch, audioChannels)
	}
	if sr := binary.LittleEndian.Uint32(wav[24:28]); sr != audioSampleRate {
		t.Fatalf("sample rate = %d, want %d", sr, audioSampleRate)
	}
	if bd := binary.LittleEndian.Uint16(wav[34:36]); bd != audioBitDepth {
		t.Fatalf("bit depth = %d, want %d", bd, audioBitDepth)
	}
	if dl := binary.LittleEndian.Uint32(wav[40:44]); dl != uint32(len(pcm)) {
		t.Fatalf("data length = %d, want %d", dl, len(pcm))
	}
}

func TestThemeOfDayDeterministic(t *testing.T) {
	t.Parallel()
	catalog := DefaultThemes()

	day := time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC)
	a := ThemeOfDay(catalog, day)
	b := ThemeOfDay(catalog, day.Add(6*time.Hour)) // later the same day
	if a.Name != b.Name {
		t.Fatalf("theme changed within one day: %q vs %q", a.Name, b.Name)
	}

	next := ThemeOfDay(catalog, day.AddDate(0, 0, 1))
	if next.Name == a.Name && len(catalog) > 1 {
		t.Fatalf("theme did not rotate across days: %q", a.Name)
	}
}
