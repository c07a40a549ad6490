// Package hidproxy carries HID enumeration and report traffic over a
// named pipe, for Windows hosts where raw FIDO HID access requires
// elevated privileges and is relayed through a privileged helper.
package hidproxy

import (
	"encoding/binary"
	"io"

	"github.com/fxamacker/cbor/v2"
)

var encMode, _ = cbor.CTAP2EncOptions().EncMode()

const NamedPipePath = `\\.\pipe\ctapdev`

type Command byte

const (
	CommandEnumerate Command = iota + 1
	CommandStart
)

// Message is a pipe frame: Command(1) | Length(2, BE) | CBOR payload.
type Message struct {
	Command Command
	Data    []byte
}

func NewMessage(cmd Command, payload any) (*Message, error) {
	msg := &Message{Command: cmd}

	if payload != nil {
		b, err := encMode.Marshal(payload)
		if err != nil {
			return nil, err
		}
		msg.Data = b
	}

	return msg, nil
}

func ParseMessage(pipe io.Reader) (*Message, error) {
	header := make([]byte, 3)
	if _, err := io.ReadFull(pipe, header); err != nil {
		return nil, err
	}

	length := binary.BigEndian.Uint16(header[1:3])
	data := make([]byte, length)
	if _, err := io.ReadFull(pipe, data); err != nil {
		return nil, err
	}

	return &Message{
		Command: Command(header[0]),
		Data:    data,
	}, nil
}

func (m *Message) WriteTo(w io.Writer) (int64, error) {
	frame := make([]byte, 3+len(m.Data))
	frame[0] = byte(m.Command)
	binary.BigEndian.PutUint16(frame[1:3], uint16(len(m.Data)))
	copy(frame[3:], m.Data)

	n, err := w.Write(frame)
	return int64(n), err
}
