package iso7816

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedCard answers each transmitted APDU with the next canned
// response and records what it was asked.
type scriptedCard struct {
	t         *testing.T
	responses [][]byte
	received  [][]byte
}

func (c *scriptedCard) Transmit(capdu []byte) ([]byte, error) {
	c.received = append(c.received, append([]byte(nil), capdu...))
	require.NotEmpty(c.t, c.responses, "card transmitted past the script")
	resp := c.responses[0]
	c.responses = c.responses[1:]
	return resp, nil
}

func rapdu(data []byte, sw1, sw2 byte) []byte {
	return append(append([]byte(nil), data...), sw1, sw2)
}

func pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i)
	}
	return b
}

func TestSelectFIDOApplet(t *testing.T) {
	card := &scriptedCard{t: t, responses: [][]byte{rapdu([]byte("U2F_V2"), 0x90, 0x00)}}

	require.NoError(t, SelectFIDOApplet(card))

	require.Len(t, card.received, 1)
	want := append([]byte{0x00, 0xA4, 0x04, 0x00, 0x08}, FIDOAID...)
	want = append(want, 0x00)
	assert.Equal(t, want, card.received[0])
}

func TestSelectFIDOApplet_Refused(t *testing.T) {
	card := &scriptedCard{t: t, responses: [][]byte{rapdu(nil, 0x6A, 0x82)}}

	err := SelectFIDOApplet(card)

	var selErr *SelectError
	require.ErrorAs(t, err, &selErr)
	assert.Equal(t, uint16(0x6A82), selErr.SW())
}

func TestSendCTAP_SingleBlock(t *testing.T) {
	card := &scriptedCard{t: t, responses: [][]byte{rapdu([]byte{0x00, 0xA1, 0x01}, 0x90, 0x00)}}

	resp, err := SendCTAP(context.Background(), card, []byte{0x04})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0xA1, 0x01}, resp)

	require.Len(t, card.received, 1)
	assert.Equal(t, []byte{0x80, 0x10, 0x00, 0x00, 0x01, 0x04, 0x00}, card.received[0])
}

// a 502-byte message chains as 251+251; the reply spills over a CTAP
// GET NEXT RESPONSE follow-up.
func TestSendCTAP_ChainedWithGetNext(t *testing.T) {
	card := &scriptedCard{t: t, responses: [][]byte{
		rapdu(nil, 0x90, 0x00),
		rapdu([]byte{0x00, 0x01, 0x02}, 0x91, 0x00),
		rapdu([]byte{0x03, 0x04}, 0x90, 0x00),
	}}

	resp, err := SendCTAP(context.Background(), card, pattern(502))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x01, 0x02, 0x03, 0x04}, resp)

	require.Len(t, card.received, 3)

	first := card.received[0]
	assert.Equal(t, []byte{0x90, 0x10, 0x00, 0x00, 0xFB}, first[:5])
	assert.Len(t, first, 5+MaxChainBlockLen+1)
	assert.Equal(t, byte(0x00), first[len(first)-1])

	second := card.received[1]
	assert.Equal(t, []byte{0x80, 0x10, 0x00, 0x00, 0xFB}, second[:5])

	assert.Equal(t, []byte{0x80, 0x11, 0x00, 0x00, 0x00}, card.received[2])
}

// ISO GET RESPONSE drainage: SW1=0x61 with SW2 carrying the length of
// the remainder.
func TestSendCTAP_ISOGetResponse(t *testing.T) {
	card := &scriptedCard{t: t, responses: [][]byte{
		rapdu([]byte{0x00, 0xAA}, 0x61, 0x20),
		rapdu([]byte{0xBB, 0xCC}, 0x90, 0x00),
	}}

	resp, err := SendCTAP(context.Background(), card, []byte{0x02, 0xA0})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0xAA, 0xBB, 0xCC}, resp)

	assert.Equal(t, []byte{0x00, 0xC0, 0x00, 0x00, 0x20}, card.received[1])
}

func TestSendCTAP_ChainBlockBoundary(t *testing.T) {
	// exactly one block
	card := &scriptedCard{t: t, responses: [][]byte{rapdu([]byte{0x00}, 0x90, 0x00)}}
	_, err := SendCTAP(context.Background(), card, pattern(MaxChainBlockLen))
	require.NoError(t, err)
	require.Len(t, card.received, 1)
	assert.Equal(t, byte(0x80), card.received[0][0])

	// one byte more forces a second block carrying a single byte
	card = &scriptedCard{t: t, responses: [][]byte{
		rapdu(nil, 0x90, 0x00),
		rapdu([]byte{0x00}, 0x90, 0x00),
	}}
	_, err = SendCTAP(context.Background(), card, pattern(MaxChainBlockLen+1))
	require.NoError(t, err)
	require.Len(t, card.received, 2)
	assert.Equal(t, byte(0x90), card.received[0][0])
	assert.Equal(t, []byte{0x80, 0x10, 0x00, 0x00, 0x01, 0xFB, 0x00}, card.received[1])
}

func TestSendCTAP_ChainRejected(t *testing.T) {
	card := &scriptedCard{t: t, responses: [][]byte{rapdu(nil, 0x6A, 0x80)}}

	_, err := SendCTAP(context.Background(), card, pattern(300))

	var chainErr *ChainError
	require.ErrorAs(t, err, &chainErr)
	assert.Equal(t, uint16(0x6A80), chainErr.SW())
}

func TestSendCTAP_UnexpectedStatus(t *testing.T) {
	card := &scriptedCard{t: t, responses: [][]byte{rapdu(nil, 0x6F, 0x00)}}

	_, err := SendCTAP(context.Background(), card, []byte{0x04})

	var swErr *StatusError
	require.ErrorAs(t, err, &swErr)
	assert.Equal(t, uint16(0x6F00), swErr.SW())
}

func TestSendCTAP_EmptyResponse(t *testing.T) {
	card := &scriptedCard{t: t, responses: [][]byte{rapdu(nil, 0x90, 0x00)}}

	_, err := SendCTAP(context.Background(), card, []byte{0x04})
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestSendCTAP_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	card := &scriptedCard{t: t}
	_, err := SendCTAP(ctx, card, []byte{0x04})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, card.received)
}
