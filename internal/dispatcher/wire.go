// Package dispatcher implements the wire protocol boundary: a fixed
// {length, id} header followed by an operation-specific body, an
// operation table keyed by id, and the validation gate every request
// must clear before its handler is allowed to run.
//
// The header layout and operation ids come from the control-plane
// protocol this runtime speaks to its callers, grounded in the
// reference protocol header (uint16 length, uint16 id, little-endian).
package dispatcher

import (
	"encoding/binary"

	"github.com/darylpeterson1178/ebpf-for-windows/internal/status"
)

// headerSize is the {length, id} header: two little-endian uint16s.
const headerSize = 4

// OperationID identifies a request kind, numbered in protocol order.
type OperationID uint16

const (
	OpEvidence OperationID = iota
	OpResolveHelper
	OpResolveMap
	OpLoadCode
	OpUnloadCode
	OpAttachCode
	OpDetachCode
	OpCreateMap
	OpMapLookupElement
	OpMapUpdateElement
	OpMapDeleteElement
)

// Header is the fixed prefix of every request and reply. Length counts
// the entire message, header included.
type Header struct {
	Length uint16
	ID     OperationID
}

func marshalHeader(h Header) []byte {
	buf := make([]byte, headerSize)
	binary.LittleEndian.PutUint16(buf[0:2], h.Length)
	binary.LittleEndian.PutUint16(buf[2:4], uint16(h.ID))
	return buf
}

func unmarshalHeader(data []byte) (Header, error) {
	if len(data) < headerSize {
		return Header{}, status.New("DISPATCH", status.InvalidParameter, "message shorter than header")
	}
	return Header{
		Length: binary.LittleEndian.Uint16(data[0:2]),
		ID:     OperationID(binary.LittleEndian.Uint16(data[2:4])),
	}, nil
}

// encodeReply builds a reply frame: header, four-byte status code,
// then the handler's body bytes.
func encodeReply(id OperationID, code status.Code, body []byte) []byte {
	total := headerSize + 4 + len(body)
	buf := make([]byte, total)
	copy(buf[0:headerSize], marshalHeader(Header{Length: uint16(total), ID: id}))
	binary.LittleEndian.PutUint32(buf[headerSize:headerSize+4], uint32(code))
	copy(buf[headerSize+4:], body)
	return buf
}
