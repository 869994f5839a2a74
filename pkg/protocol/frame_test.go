package protocol

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeBinaryFrameRoundTrip(t *testing.T) {
	header := BinaryFrameHeader{
		ID:       "req-1",
		Kind:     BinaryFrameKindUploadChunk,
		UploadID: "upload-1",
		FilePath: "game/data.bin",
		Offset:   4096,
		Checksum: "deadbeef",
	}
	payload := []byte("some chunk bytes")

	frame, err := EncodeBinaryFrame(header, payload)
	if err != nil {
		t.Fatalf("EncodeBinaryFrame: %v", err)
	}

	gotHeader, gotPayload, err := DecodeBinaryFrame(frame)
	if err != nil {
		t.Fatalf("DecodeBinaryFrame: %v", err)
	}

	if gotHeader != header {
		t.Fatalf("header mismatch: got %+v, want %+v", gotHeader, header)
	}
	if !bytes.Equal(gotPayload, payload) {
		t.Fatalf("payload mismatch: got %q, want %q", gotPayload, payload)
	}
}

func TestEncodeBinaryFrameEmptyPayload(t *testing.T) {
	header := BinaryFrameHeader{ID: "req-2", Kind: BinaryFrameKindArtworkImage, AppID: 42}

	frame, err := EncodeBinaryFrame(header, nil)
	if err != nil {
		t.Fatalf("EncodeBinaryFrame: %v", err)
	}

	gotHeader, gotPayload, err := DecodeBinaryFrame(frame)
	if err != nil {
		t.Fatalf("DecodeBinaryFrame: %v", err)
	}
	if gotHeader != header {
		t.Fatalf("header mismatch: got %+v, want %+v", gotHeader, header)
	}
	if len(gotPayload) != 0 {
		t.Fatalf("expected empty payload, got %d bytes", len(gotPayload))
	}
}

func TestDecodeBinaryFrameTooShort(t *testing.T) {
	if _, _, err := DecodeBinaryFrame([]byte{0, 0, 1}); err == nil {
		t.Fatal("expected error for frame shorter than the length prefix")
	}
}

func TestDecodeBinaryFrameHeaderLengthOverrun(t *testing.T) {
	frame := []byte{0, 0, 0, 100, 1, 2, 3}
	if _, _, err := DecodeBinaryFrame(frame); err == nil {
		t.Fatal("expected error when declared header length exceeds frame size")
	}
}

func TestDecodeBinaryFrameInvalidHeaderJSON(t *testing.T) {
	bad := []byte("not json")
	frame := make([]byte, 4+len(bad))
	frame[3] = byte(len(bad))
	copy(frame[4:], bad)

	if _, _, err := DecodeBinaryFrame(frame); err == nil {
		t.Fatal("expected error for invalid header JSON")
	}
}
