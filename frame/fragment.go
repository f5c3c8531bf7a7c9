package frame

import "github.com/opencardev/aahead/aaerr"

// DefaultPayloadLimit is the maximum payload carried by a single
// frame when no explicit limit is configured.
const DefaultPayloadLimit = 4096

// Fragment splits msg into a sequence of complete wire frames, each no
// larger than limit bytes of payload. A payload that fits in one
// frame produces a single BULK frame; a payload that needs splitting
// produces one FIRST frame, zero or more MIDDLE frames, and one LAST
// frame. A zero-length payload still produces one BULK frame.
func Fragment(msg Message, limit int) [][]byte {
	if limit <= 0 {
		limit = DefaultPayloadLimit
	}

	total := len(msg.Payload)
	if total <= limit {
		return [][]byte{encodeOneFrame(msg.ChannelID, TypeBulk, msg.Class, msg.Enc, msg.Payload, uint32(total))}
	}

	var frames [][]byte
	offset := 0
	for offset < total {
		remaining := total - offset
		chunkLen := limit
		if chunkLen > remaining {
			chunkLen = remaining
		}
		chunk := msg.Payload[offset : offset+chunkLen]

		var t FrameType
		switch {
		case offset == 0:
			t = TypeFirst
		case offset+chunkLen == total:
			t = TypeLast
		default:
			t = TypeMiddle
		}

		frames = append(frames, encodeOneFrame(msg.ChannelID, t, msg.Class, msg.Enc, chunk, uint32(total)))
		offset += chunkLen
	}
	return frames
}

func encodeOneFrame(ch ChannelID, t FrameType, class FrameClass, enc EncryptionType, payload []byte, totalSize uint32) []byte {
	hdr := EncodeHeader(ch, t, class, enc, uint16(len(payload)))
	sizeField := EncodeSizeField(t, uint16(len(payload)), totalSize)

	wire := make([]byte, 0, HeaderLen+len(sizeField)+len(payload))
	wire = append(wire, hdr[:]...)
	wire = append(wire, sizeField...)
	wire = append(wire, payload...)
	return wire
}

// ParseFrame decodes a single self-contained wire frame from b,
// returning the header, the total assembled message size (only
// meaningful on a FIRST frame, otherwise equal to the header's short
// size), the frame's payload, and the number of bytes consumed from
// b. It is used by callers that receive whole frames at once (tests,
// and transports that happen to deliver a frame in one read); the
// incremental reassembly state machine reads header, size field, and
// payload as three separate steps instead.
func ParseFrame(b []byte) (hdr Header, totalMessageSize uint32, payload []byte, consumed int, err error) {
	if len(b) < HeaderLen {
		return Header{}, 0, nil, 0, aaerr.WithContext(aaerr.KindParsePayload, "short frame header", nil)
	}
	var hb [HeaderLen]byte
	copy(hb[:], b[:HeaderLen])
	hdr = DecodeHeader(hb)

	sizeLen := SizeFieldLen(hdr.Type)
	if len(b) < HeaderLen+sizeLen {
		return Header{}, 0, nil, 0, aaerr.WithContext(aaerr.KindParsePayload, "short frame size field", nil)
	}
	sizeField := b[HeaderLen : HeaderLen+sizeLen]
	if hdr.Type == TypeFirst {
		totalMessageSize = DecodeTotalMessageSize(sizeField)
	} else {
		if got := DecodeRedundantShortSize(sizeField); got != hdr.ShortSize {
			return Header{}, 0, nil, 0, aaerr.WithContext(aaerr.KindParsePayload, "redundant short size mismatch", nil)
		}
		totalMessageSize = uint32(hdr.ShortSize)
	}

	payloadStart := HeaderLen + sizeLen
	payloadEnd := payloadStart + int(hdr.ShortSize)
	if len(b) < payloadEnd {
		return Header{}, 0, nil, 0, aaerr.WithContext(aaerr.KindParsePayload, "short frame payload", nil)
	}
	payload = b[payloadStart:payloadEnd]
	return hdr, totalMessageSize, payload, payloadEnd, nil
}
