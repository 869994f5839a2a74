package protocol

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
)

// BinaryFrameHeader carries the metadata for a binary (chunk or artwork
// image) transfer. It travels as the JSON-encoded header of a BinaryFrame;
// the raw bytes that follow it on the wire are never part of this struct.
type BinaryFrameHeader struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"` // "upload_chunk" or "artwork_image"
	UploadID    string `json:"uploadId,omitempty"`
	FilePath    string `json:"filePath,omitempty"`
	Offset      int64  `json:"offset,omitempty"`
	Checksum    string `json:"checksum,omitempty"`
	AppID       uint32 `json:"appId,omitempty"`
	ArtworkType string `json:"artworkType,omitempty"`
	ContentType string `json:"contentType,omitempty"`
}

const (
	BinaryFrameKindUploadChunk  = "upload_chunk"
	BinaryFrameKindArtworkImage = "artwork_image"
)

// binaryFrameHeaderLengthSize is the width of the length prefix in bytes.
const binaryFrameHeaderLengthSize = 4

// EncodeBinaryFrame serializes a header and payload into the wire format:
// a 4-byte big-endian header length, the JSON-encoded header, then the raw
// payload bytes.
func EncodeBinaryFrame(header BinaryFrameHeader, payload []byte) ([]byte, error) {
	headerBytes, err := json.Marshal(header)
	if err != nil {
		return nil, fmt.Errorf("marshal binary frame header: %w", err)
	}

	frame := make([]byte, binaryFrameHeaderLengthSize+len(headerBytes)+len(payload))
	binary.BigEndian.PutUint32(frame, uint32(len(headerBytes)))
	copy(frame[binaryFrameHeaderLengthSize:], headerBytes)
	copy(frame[binaryFrameHeaderLengthSize+len(headerBytes):], payload)

	return frame, nil
}

// DecodeBinaryFrame parses the wire format produced by EncodeBinaryFrame.
// The returned payload slice aliases the input and must not be retained
// past the caller's use of data.
func DecodeBinaryFrame(data []byte) (BinaryFrameHeader, []byte, error) {
	var header BinaryFrameHeader

	if len(data) < binaryFrameHeaderLengthSize {
		return header, nil, fmt.Errorf("binary frame too short: %d bytes", len(data))
	}

	headerLen := int(binary.BigEndian.Uint32(data))
	if headerLen < 0 || binaryFrameHeaderLengthSize+headerLen > len(data) {
		return header, nil, fmt.Errorf("binary frame header length %d exceeds frame size %d", headerLen, len(data))
	}

	headerBytes := data[binaryFrameHeaderLengthSize : binaryFrameHeaderLengthSize+headerLen]
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		return header, nil, fmt.Errorf("unmarshal binary frame header: %w", err)
	}

	payload := data[binaryFrameHeaderLengthSize+headerLen:]
	return header, payload, nil
}
