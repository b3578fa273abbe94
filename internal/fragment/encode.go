package fragment

import (
	"encoding/binary"

	"firestige.xyz/meter/internal/frame"
)

// EncodeNotify builds an uncompressed notify frame. It mirrors the layout
// Parse expects and is used to synthesise traffic.
func EncodeNotify(serviceID uint64, methodID uint32, payload []byte) frame.Frame {
	return encode(TypeNotify, false, notifyBody(serviceID, methodID, payload))
}

// EncodeNotifyCompressed builds a notify frame whose payload is already zstd
// compressed.
func EncodeNotifyCompressed(serviceID uint64, methodID uint32, compressed []byte) frame.Frame {
	return encode(TypeNotify, true, notifyBody(serviceID, methodID, compressed))
}

// EncodeFrameDown wraps a framed stream into a FrameDown frame.
func EncodeFrameDown(serverSeq uint32, nested []byte, compressed bool) frame.Frame {
	body := make([]byte, 4+len(nested))
	binary.BigEndian.PutUint32(body, serverSeq)
	copy(body[4:], nested)
	return encode(TypeFrameDown, compressed, body)
}

func notifyBody(serviceID uint64, methodID uint32, payload []byte) []byte {
	body := make([]byte, notifyHeaderLen+len(payload))
	binary.BigEndian.PutUint64(body[0:8], serviceID)
	binary.BigEndian.PutUint32(body[12:16], methodID)
	copy(body[notifyHeaderLen:], payload)
	return body
}

func encode(kind Type, compressed bool, body []byte) frame.Frame {
	pt := uint16(kind)
	if compressed {
		pt |= compressedFlag
	}
	b := make([]byte, 2+len(body))
	binary.BigEndian.PutUint16(b, pt)
	copy(b[2:], body)
	return frame.Encode(b)
}
