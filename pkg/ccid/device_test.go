package ccid

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDevice(conn *fakeConn) *Device {
	return &Device{
		Name:        "fake",
		Path:        "001:002",
		conn:        conn,
		readTimeout: time.Second,
		logger:      slog.New(slog.DiscardHandler),
	}
}

func slotStatus(seq byte, bStatus byte) *Message {
	return &Message{Type: msgSlotStatus, Seq: seq, Param: [3]byte{bStatus, 0x00, 0x00}}
}

func dataBlock(seq byte, bStatus byte, data []byte) *Message {
	return &Message{Type: msgDataBlock, Seq: seq, Param: [3]byte{bStatus, 0x00, 0x00}, Data: data}
}

func TestSendAPDU_CardActive(t *testing.T) {
	conn := &fakeConn{t: t}
	conn.enqueue(slotStatus(0, 0x00)) // powered, success
	conn.enqueue(dataBlock(1, 0x00, []byte{0x69, 0x85}))

	d := newTestDevice(conn)

	resp, err := d.sendAPDU(context.Background(), []byte{0x00, 0xA4, 0x04, 0x00})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x69, 0x85}, resp)

	// exactly two exchanges: slot status, XfrBlock; no power-on
	require.Len(t, conn.writes, 2)
	assert.Equal(t, byte(msgGetSlotStatus), conn.writes[0][0])

	xfr := conn.writes[1]
	assert.Equal(t, byte(msgXfrBlock), xfr[0])
	assert.Equal(t, byte(1), xfr[6])
	assert.Equal(t, byte(defaultBWI), xfr[7])
	assert.Equal(t, []byte{0x00, 0xA4, 0x04, 0x00}, xfr[headerLen:])
}

func TestSendAPDU_PowersOnInactiveCard(t *testing.T) {
	conn := &fakeConn{t: t}
	conn.enqueue(slotStatus(0, 0x01))             // present but unpowered
	conn.enqueue(dataBlock(1, 0x00, []byte{0x3B})) // ATR
	conn.enqueue(dataBlock(2, 0x00, []byte{0x90, 0x00}))

	d := newTestDevice(conn)

	resp, err := d.sendAPDU(context.Background(), []byte{0x80, 0x10, 0x00, 0x00})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x90, 0x00}, resp)

	require.Len(t, conn.writes, 3)
	assert.Equal(t, byte(msgGetSlotStatus), conn.writes[0][0])
	assert.Equal(t, byte(msgIccPowerOn), conn.writes[1][0])
	assert.Equal(t, byte(msgXfrBlock), conn.writes[2][0])
}

func TestSendAPDU_NoCard(t *testing.T) {
	conn := &fakeConn{t: t}
	conn.enqueue(slotStatus(0, 0x02))

	d := newTestDevice(conn)

	_, err := d.sendAPDU(context.Background(), []byte{0x00})
	assert.ErrorIs(t, err, ErrNoCard)
}

func TestSendAPDU_ReaderError(t *testing.T) {
	conn := &fakeConn{t: t}
	conn.enqueue(&Message{Type: msgSlotStatus, Seq: 0, Param: [3]byte{0x40, 0xFE, 0x00}})

	d := newTestDevice(conn)

	_, err := d.sendAPDU(context.Background(), []byte{0x00})

	var readerErr *ReaderError
	require.ErrorAs(t, err, &readerErr)
	assert.Equal(t, byte(msgGetSlotStatus), readerErr.Command)
	assert.Equal(t, byte(0xFE), readerErr.Code)
}

// the reader asks for three time extensions before delivering the
// actual response; only the final one surfaces.
func TestSendAPDU_TimeExtension(t *testing.T) {
	conn := &fakeConn{t: t}
	conn.enqueue(slotStatus(0, 0x00))
	conn.enqueue(dataBlock(1, 0x80, nil))
	conn.enqueue(dataBlock(1, 0x80, nil))
	conn.enqueue(dataBlock(1, 0x80, nil))
	conn.enqueue(dataBlock(1, 0x00, []byte{0x00, 0x90, 0x00}))

	d := newTestDevice(conn)

	resp, err := d.sendAPDU(context.Background(), []byte{0x80, 0x10})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x90, 0x00}, resp)
}

func TestSendAPDU_TimeExtensionLimit(t *testing.T) {
	conn := &fakeConn{t: t}
	conn.enqueue(slotStatus(0, 0x00))
	for range maxTimeExtensions + 1 {
		conn.enqueue(dataBlock(1, 0x80, nil))
	}

	d := newTestDevice(conn)

	_, err := d.sendAPDU(context.Background(), []byte{0x80, 0x10})
	assert.ErrorIs(t, err, ErrTimeExtensionLimit)
}

func TestReadExpected_DiscardsMismatches(t *testing.T) {
	conn := &fakeConn{t: t}
	conn.enqueue(&Message{Type: msgNotifySlotChange, Seq: 0})
	conn.enqueue(dataBlock(5, 0x00, nil)) // stale seq
	conn.enqueue(slotStatus(0, 0x00))

	d := newTestDevice(conn)

	msg, err := d.readExpected(context.Background(), msgSlotStatus, 0)
	require.NoError(t, err)
	assert.Equal(t, byte(msgSlotStatus), msg.Type)
}

func TestReadExpected_Exhaustion(t *testing.T) {
	conn := &fakeConn{t: t}
	for range maxExpectedReads {
		conn.enqueue(&Message{Type: msgNotifySlotChange, Seq: 0})
	}

	d := newTestDevice(conn)

	_, err := d.readExpected(context.Background(), msgSlotStatus, 0)
	assert.ErrorIs(t, err, ErrResponseMismatch)
}

// Send layers ISO 7816 chaining over the XfrBlock pipeline.
func TestSend_CTAPMessage(t *testing.T) {
	conn := &fakeConn{t: t}
	conn.enqueue(slotStatus(0, 0x00))
	conn.enqueue(dataBlock(1, 0x00, []byte{0x00, 0xA1, 0x01, 0x90, 0x00}))

	d := newTestDevice(conn)

	resp, err := d.Send(context.Background(), []byte{0x04})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0xA1, 0x01}, resp)

	xfr := conn.writes[1]
	assert.Equal(t, []byte{0x80, 0x10, 0x00, 0x00, 0x01, 0x04, 0x00}, xfr[headerLen:])
}

func TestSeqCounter_Wraps(t *testing.T) {
	d := newTestDevice(&fakeConn{t: t})
	d.seq = 0xFF

	assert.Equal(t, byte(0xFF), d.nextSeq())
	assert.Equal(t, byte(0x00), d.nextSeq())
}

func TestClose_Idempotent(t *testing.T) {
	conn := &fakeConn{t: t}
	d := newTestDevice(conn)

	require.NoError(t, d.Close())
	require.NoError(t, d.Close())
	assert.True(t, conn.closed)

	_, err := d.Send(context.Background(), []byte{0x04})
	assert.ErrorIs(t, err, ErrClosed)
}
