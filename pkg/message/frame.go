package message

// ParseDatagram splits a raw datagram into channel, cookie, and body.
// Datagrams of MetadataSize bytes or fewer are rejected: a valid frame
// always carries at least one payload byte.
func ParseDatagram(b []byte) (Channel, Cookie, []byte, error) {
	if len(b) <= MetadataSize {
		return ChannelNone, Cookie{}, nil, ErrDatagramTooShort
	}
	ch := Channel(b[0])
	if !ch.IsValid() {
		return ChannelNone, Cookie{}, nil, ErrUnknownChannel
	}
	var cookie Cookie
	copy(cookie[:], b[ChannelHeaderSize:MetadataSize])
	return ch, cookie, b[MetadataSize:], nil
}

// WrapReliable frames one ARQ segment buffer for transmission:
// [Reliable][cookie][segment stream].
func WrapReliable(cookie Cookie, seg []byte) []byte {
	out := make([]byte, 0, MetadataSize+len(seg))
	out = append(out, byte(ChannelReliable))
	out = append(out, cookie[:]...)
	return append(out, seg...)
}

// WrapUnreliable frames an unreliable message for transmission:
// [Unreliable][cookie][header][data].
func WrapUnreliable(cookie Cookie, header UnreliableHeader, data []byte) []byte {
	out := make([]byte, 0, MetadataSize+SubHeaderSize+len(data))
	out = append(out, byte(ChannelUnreliable))
	out = append(out, cookie[:]...)
	out = append(out, byte(header))
	return append(out, data...)
}

// WrapReliablePayload builds the inner message handed to the ARQ
// engine: [header][data].
func WrapReliablePayload(header ReliableHeader, data []byte) []byte {
	out := make([]byte, 0, SubHeaderSize+len(data))
	out = append(out, byte(header))
	return append(out, data...)
}

// ParseReliablePayload splits an ARQ-reassembled message into its
// sub-header and data.
func ParseReliablePayload(b []byte) (ReliableHeader, []byte, error) {
	if len(b) < SubHeaderSize {
		return 0, nil, ErrPayloadTooShort
	}
	header, ok := ParseReliableHeader(b[0])
	if !ok {
		return 0, nil, ErrUnknownHeader
	}
	return header, b[SubHeaderSize:], nil
}

// ParseUnreliablePayload splits an unreliable body into its sub-header
// and data.
func ParseUnreliablePayload(b []byte) (UnreliableHeader, []byte, error) {
	if len(b) < SubHeaderSize {
		return 0, nil, ErrPayloadTooShort
	}
	header, ok := ParseUnreliableHeader(b[0])
	if !ok {
		return 0, nil, ErrUnknownHeader
	}
	return header, b[SubHeaderSize:], nil
}
