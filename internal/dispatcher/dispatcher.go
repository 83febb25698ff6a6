package dispatcher

import (
	"encoding/binary"
	"sync"

	"github.com/darylpeterson1178/ebpf-for-windows/internal/status"
)

// OpUnknown marks a reply whose request never got far enough to name a
// real operation id (header too short, or length mismatch).
const OpUnknown OperationID = 0xFFFF

// Handler processes one request's body (the bytes after the header)
// and returns the reply body to follow the status code, or an error.
type Handler func(body []byte) ([]byte, error)

// OperationSpec describes one entry in the operation table: how large
// a request/reply must be at minimum, and the handler that serves it.
type OperationSpec struct {
	MinRequestSize int
	MinReplySize   int
	Handler        Handler
}

// Dispatcher validates and routes wire requests to registered
// operation handlers, translating every outcome -- success or
// failure -- into a reply frame. No handler is ever invoked for a
// request that fails header or length validation.
type Dispatcher struct {
	mu  sync.RWMutex
	ops map[OperationID]*OperationSpec
}

func New() *Dispatcher {
	return &Dispatcher{ops: make(map[OperationID]*OperationSpec)}
}

// Register installs the handler for id, replacing any previous one.
func (d *Dispatcher) Register(id OperationID, minRequestSize, minReplySize int, handler Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ops[id] = &OperationSpec{MinRequestSize: minRequestSize, MinReplySize: minReplySize, Handler: handler}
}

// Dispatch validates request and, only if it passes, invokes the
// matching handler. Every path -- malformed header, unknown id,
// undersized request, handler error, handler success -- produces a
// reply frame; Dispatch never panics on attacker-controlled input.
//
// Validation order (spec §4.H): parse header, check declared length
// against the actual buffer, look up the operation, check the
// request meets that operation's minimum size, only then call the
// handler.
func (d *Dispatcher) Dispatch(request []byte) []byte {
	header, err := unmarshalHeader(request)
	if err != nil {
		return encodeReply(OpUnknown, status.InvalidParameter, nil)
	}

	if int(header.Length) != len(request) {
		return encodeReply(header.ID, status.InvalidParameter, nil)
	}

	d.mu.RLock()
	spec, ok := d.ops[header.ID]
	d.mu.RUnlock()
	if !ok {
		return encodeReply(header.ID, status.NotFound, nil)
	}

	if len(request) < spec.MinRequestSize {
		return encodeReply(header.ID, status.InvalidParameter, nil)
	}

	body := request[headerSize:]
	replyBody, err := spec.Handler(body)
	if err != nil {
		return encodeReply(header.ID, status.CodeOf(err), nil)
	}

	return encodeReply(header.ID, status.Success, replyBody)
}

// EncodeRequest is a test/client-side convenience: builds a request
// frame with a correct length field.
func EncodeRequest(id OperationID, body []byte) []byte {
	total := headerSize + len(body)
	buf := make([]byte, total)
	copy(buf[0:headerSize], marshalHeader(Header{Length: uint16(total), ID: id}))
	copy(buf[headerSize:], body)
	return buf
}

// DecodeReply splits a reply frame back into its header, status code,
// and body, for tests and in-process clients.
func DecodeReply(reply []byte) (Header, status.Code, []byte, error) {
	header, err := unmarshalHeader(reply)
	if err != nil {
		return Header{}, 0, nil, err
	}
	if len(reply) < headerSize+4 {
		return Header{}, 0, nil, status.New("DISPATCH", status.InvalidParameter, "reply shorter than status field")
	}
	code := status.Code(binary.LittleEndian.Uint32(reply[headerSize : headerSize+4]))
	return header, code, reply[headerSize+4:], nil
}
