package frame

import "encoding/binary"

// FrameType is derived from the header's flag bits, not stored
// directly: a frame is a standalone BULK, or FIRST/MIDDLE/LAST of a
// fragmented message.
type FrameType uint8

const (
	TypeLast FrameType = iota
	TypeMiddle
	TypeBulk
	TypeFirst
)

func (t FrameType) String() string {
	switch t {
	case TypeFirst:
		return "FIRST"
	case TypeMiddle:
		return "MIDDLE"
	case TypeLast:
		return "LAST"
	case TypeBulk:
		return "BULK"
	default:
		return "UNKNOWN"
	}
}

const (
	flagMoreFramesFollow byte = 1 << 0
	flagFirstFrame       byte = 1 << 1
	flagControlType      byte = 1 << 2
	flagEncrypted        byte = 1 << 3
)

// HeaderLen is the fixed size of a frame's channel/flags/short-size
// header, present on every frame regardless of type.
const HeaderLen = 4

// Header is the decoded form of a frame's first 4 bytes.
type Header struct {
	ChannelID ChannelID
	Type      FrameType
	Class     FrameClass
	Enc       EncryptionType
	// ShortSize is this frame's own payload length, always carried in
	// header bytes [2:4), and (for non-FIRST frames) redundantly
	// repeated in the size field that immediately follows the header.
	ShortSize uint16
}

func frameTypeFromFlags(flags byte) FrameType {
	more := flags&flagMoreFramesFollow != 0
	first := flags&flagFirstFrame != 0
	switch {
	case more && first:
		return TypeFirst
	case more && !first:
		return TypeMiddle
	case !more && !first:
		return TypeLast
	default: // !more && first
		return TypeBulk
	}
}

func flagsFromFrameType(t FrameType) byte {
	switch t {
	case TypeFirst:
		return flagMoreFramesFollow | flagFirstFrame
	case TypeMiddle:
		return flagMoreFramesFollow
	case TypeLast:
		return 0
	default: // TypeBulk
		return flagFirstFrame
	}
}

// EncodeHeader writes the 4-byte header for a frame of type t carrying
// shortSize payload bytes.
func EncodeHeader(ch ChannelID, t FrameType, class FrameClass, enc EncryptionType, shortSize uint16) [HeaderLen]byte {
	var hdr [HeaderLen]byte
	hdr[0] = byte(ch)

	flags := flagsFromFrameType(t)
	if class == ClassControl {
		flags |= flagControlType
	}
	if enc == Encrypted {
		flags |= flagEncrypted
	}
	hdr[1] = flags

	binary.BigEndian.PutUint16(hdr[2:4], shortSize)
	return hdr
}

// DecodeHeader parses a 4-byte frame header.
func DecodeHeader(b [HeaderLen]byte) Header {
	flags := b[1]
	class := ClassSpecific
	if flags&flagControlType != 0 {
		class = ClassControl
	}
	enc := Plain
	if flags&flagEncrypted != 0 {
		enc = Encrypted
	}
	return Header{
		ChannelID: ChannelID(b[0]),
		Type:      frameTypeFromFlags(flags),
		Class:     class,
		Enc:       enc,
		ShortSize: binary.BigEndian.Uint16(b[2:4]),
	}
}

// SizeFieldLen is the length, in bytes, of the size field that
// immediately follows the header: 4 bytes (the total assembled
// message size) on a FIRST frame, 2 bytes (a redundant repeat of the
// header's short size) otherwise.
func SizeFieldLen(t FrameType) int {
	if t == TypeFirst {
		return 4
	}
	return 2
}

// EncodeSizeField writes the size field that follows the header: for
// FIRST frames, the 4-byte total message size; otherwise the 2-byte
// short size repeated.
func EncodeSizeField(t FrameType, shortSize uint16, totalMessageSize uint32) []byte {
	if t == TypeFirst {
		b := make([]byte, 4)
		binary.BigEndian.PutUint32(b, totalMessageSize)
		return b
	}
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, shortSize)
	return b
}

// DecodeTotalMessageSize parses a FIRST frame's 4-byte size field.
func DecodeTotalMessageSize(b []byte) uint32 {
	return binary.BigEndian.Uint32(b)
}

// DecodeRedundantShortSize parses a non-FIRST frame's 2-byte size
// field.
func DecodeRedundantShortSize(b []byte) uint16 {
	return binary.BigEndian.Uint16(b)
}
