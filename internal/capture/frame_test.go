package capture

import (
	"bytes"
	"testing"
)

func TestFrameScannerEmitsFramesBetweenMarkers(t *testing.T) {
	marker := []byte("MARK")
	scanner := NewFrameScanner(marker, 0)

	input := append(append([]byte{}, marker...), []byte("frame1")...)
	input = append(input, marker...)
	input = append(input, []byte("frame2")...)
	input = append(input, marker...)

	frames, err := scanner.Write(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2 (the third marker closes frame2 and stays buffered)", len(frames))
	}
	want := append(append([]byte{}, marker...), []byte("frame1")...)
	if !bytes.Equal(frames[0], want) {
		t.Errorf("frame[0] = %q, want %q", frames[0], want)
	}
}

func TestFrameScannerSpansMultipleWrites(t *testing.T) {
	marker := []byte("MARK")
	scanner := NewFrameScanner(marker, 0)

	frames, err := scanner.Write([]byte("MARKhello wo"))
	if err != nil || len(frames) != 0 {
		t.Fatalf("expected no complete frames yet, got %d frames err=%v", len(frames), err)
	}

	frames, err = scanner.Write([]byte("rldMARK"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	if !bytes.Equal(frames[0], []byte("MARKhello world")) {
		t.Errorf("frame = %q", frames[0])
	}
}

func TestFrameScannerOverflowResets(t *testing.T) {
	marker := []byte("MARK")
	scanner := NewFrameScanner(marker, 8)

	_, err := scanner.Write([]byte("MARKxxxxxxxxxxxxxxxx"))
	if err != ErrBufferOverflow {
		t.Fatalf("expected ErrBufferOverflow, got %v", err)
	}

	frames, err := scanner.Write([]byte("MARKok"))
	if err != nil {
		t.Fatalf("unexpected error after reset: %v", err)
	}
	if len(frames) != 0 {
		t.Fatalf("expected no complete frames yet after reset, got %d", len(frames))
	}
}

func TestPCMChunkerEmitsFixedSizeChunks(t *testing.T) {
	chunker := NewPCMChunker(4)

	frames := chunker.Write([]byte("ab"))
	if len(frames) != 0 {
		t.Fatalf("expected 0 frames from partial write, got %d", len(frames))
	}

	frames = chunker.Write([]byte("cdefgh"))
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(frames))
	}
	if string(frames[0]) != "abcd" || string(frames[1]) != "efgh" {
		t.Errorf("unexpected chunk contents: %q %q", frames[0], frames[1])
	}
}
