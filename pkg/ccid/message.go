package ccid

import (
	"context"
	"encoding/binary"
)

// Message is one CCID bulk-transfer frame:
// bMessageType(1) | dwLength(4, LE) | bSlot(1) | bSeq(1) | msgSpecific(3) | abData.
// For RDR-to-PC responses the message-specific bytes are bStatus,
// bError, and a message-dependent third byte.
type Message struct {
	Type  byte
	Slot  byte
	Seq   byte
	Param [3]byte
	Data  []byte
}

// Marshal renders the frame for a bulk OUT transfer.
func (m *Message) Marshal() []byte {
	b := make([]byte, headerLen+len(m.Data))
	b[0] = m.Type
	binary.LittleEndian.PutUint32(b[1:5], uint32(len(m.Data)))
	b[5] = m.Slot
	b[6] = m.Seq
	copy(b[7:10], m.Param[:])
	copy(b[headerLen:], m.Data)
	return b
}

// ICCStatus returns bits 0..1 of bStatus.
func (m *Message) ICCStatus() byte {
	return m.Param[0] & 0x03
}

// CommandStatus returns bits 6..7 of bStatus.
func (m *Message) CommandStatus() byte {
	return m.Param[0] >> 6 & 0x03
}

// ErrorCode returns bError.
func (m *Message) ErrorCode() byte {
	return m.Param[1]
}

// bulkConn is the bulk-endpoint pair a CCID reader is driven through.
// The gousb-backed implementation lives in usb.go; tests substitute an
// in-memory one.
type bulkConn interface {
	WriteBulk(ctx context.Context, p []byte) (int, error)
	ReadBulk(ctx context.Context, p []byte) (int, error)
	Close() error
}

// ReadNextMessage reads one RDR-to-PC frame in 64-byte bulk chunks:
// the 10-byte header comes in the first chunk and announces dwLength,
// the remainder is read chunk by chunk until complete.
func ReadNextMessage(ctx context.Context, conn bulkConn) (*Message, error) {
	chunk := make([]byte, chunkLen)
	n, err := conn.ReadBulk(ctx, chunk)
	if err != nil {
		return nil, err
	}
	if n < headerLen {
		return nil, ErrShortHeader
	}

	length := binary.LittleEndian.Uint32(chunk[1:5])
	if length > maxDataLen {
		return nil, ErrInvalidLength
	}

	msg := &Message{
		Type:  chunk[0],
		Slot:  chunk[5],
		Seq:   chunk[6],
		Param: [3]byte(chunk[7:10]),
	}

	data := make([]byte, 0, length)
	data = append(data, chunk[headerLen:min(n, headerLen+int(length))]...)

	for len(data) < int(length) {
		n, err := conn.ReadBulk(ctx, chunk)
		if err != nil {
			return nil, err
		}
		data = append(data, chunk[:min(n, int(length)-len(data))]...)
	}

	msg.Data = data
	return msg, nil
}

// expectedResponseType maps a command type to the response type that
// answers it.
func expectedResponseType(cmdType byte) byte {
	switch cmdType {
	case msgGetSlotStatus:
		return msgSlotStatus
	case msgEscape:
		return msgEscapeResponse
	default:
		return msgDataBlock
	}
}
