package ctaphid

import (
	"encoding/binary"
	"io"

	"github.com/samber/lo"
)

// ChannelID represents a CTAPHID channel ID allocated by CTAPHID_INIT.
type ChannelID [4]byte

// BROADCAST_CID is the channel every CTAPHID_INIT handshake starts on.
var BROADCAST_CID = ChannelID{0xff, 0xff, 0xff, 0xff}

// Message is a CTAPHID message split into wire packets.
type Message []*packet

type packet struct {
	cid          ChannelID
	command      Command
	sequence     byte
	length       uint16
	data         []byte
	continuation bool
}

// NewMessage splits data into one initialization packet and as many
// continuation packets as needed to carry it on the given channel.
func NewMessage(cid ChannelID, cmd Command, data []byte) (Message, error) {
	if len(data) > MaxMessageLen {
		return nil, ErrMessageTooLarge
	}

	msg := Message{{
		cid:     cid,
		command: cmd,
		length:  uint16(len(data)),
		data:    lo.Slice(data, 0, InitPacketDataLen),
	}}

	if len(data) > InitPacketDataLen {
		for i, chunk := range lo.Chunk(data[InitPacketDataLen:], ContPacketDataLen) {
			msg = append(msg, &packet{
				cid:          cid,
				sequence:     byte(i),
				data:         chunk,
				continuation: true,
			})
		}
	}

	return msg, nil
}

// Reports renders the message as HID output reports. Every report is
// exactly OutputReportLen bytes: the zero report ID followed by the
// 64-byte packet, zero-padded.
func (m Message) Reports() [][]byte {
	reports := make([][]byte, 0, len(m))
	for _, p := range m {
		report := make([]byte, OutputReportLen)
		// report[0] is the report ID, always zero
		copy(report[1:], p.cid[:])

		if p.continuation {
			report[5] = p.sequence
			copy(report[contHeaderLen+1:], p.data)
		} else {
			report[5] = byte(p.command) | INIT_PACKET_BIT
			binary.BigEndian.PutUint16(report[6:8], p.length)
			copy(report[initHeaderLen+1:], p.data)
		}

		reports = append(reports, report)
	}

	return reports
}

// WriteTo writes the message to the device, one output report per write.
func (m Message) WriteTo(w io.Writer) (int64, error) {
	var total int64
	for _, report := range m.Reports() {
		n, err := w.Write(report)
		total += int64(n)
		if err != nil {
			return total, err
		}
	}

	return total, nil
}
