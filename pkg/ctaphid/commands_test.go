package ctaphid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDevice serves canned 64-byte input reports and records every
// output report it is handed.
type fakeDevice struct {
	t       *testing.T
	reports [][]byte
	writes  [][]byte
}

func (d *fakeDevice) Read(p []byte) (int, error) {
	require.NotEmpty(d.t, d.reports, "device read past the canned responses")
	report := d.reports[0]
	d.reports = d.reports[1:]
	return copy(p, report), nil
}

func (d *fakeDevice) Write(p []byte) (int, error) {
	assert.Len(d.t, p, OutputReportLen)
	d.writes = append(d.writes, append([]byte(nil), p...))
	return len(p), nil
}

// respond renders a response message as input reports (no report ID).
func respond(t *testing.T, cid ChannelID, cmd Command, data []byte) [][]byte {
	msg, err := NewMessage(cid, cmd, data)
	require.NoError(t, err)

	reports := make([][]byte, 0, len(msg))
	for _, report := range msg.Reports() {
		reports = append(reports, report[1:])
	}
	return reports
}

func keepaliveReport(cid ChannelID, status KeepaliveStatusCode) []byte {
	report := make([]byte, ReportLen)
	copy(report, cid[:])
	report[4] = byte(CTAPHID_KEEPALIVE) | INIT_PACKET_BIT
	report[6] = 1
	report[7] = byte(status)
	return report
}

func TestInit(t *testing.T) {
	nonce := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
	payload := append([]byte(nil), nonce...)
	payload = append(payload, 0xAA, 0xBB, 0xCC, 0xDD) // allocated CID
	payload = append(payload, 0x02, 0x05, 0x00, 0x02) // protocol and device versions
	payload = append(payload, byte(CAPABILITY_CBOR))

	dev := &fakeDevice{t: t, reports: respond(t, BROADCAST_CID, CTAPHID_INIT, payload)}

	resp, err := Init(dev, nonce)
	require.NoError(t, err)

	assert.Equal(t, ChannelID{0xAA, 0xBB, 0xCC, 0xDD}, resp.CID)
	assert.True(t, resp.ImplementsCBOR())
	assert.False(t, resp.ImplementsWink())

	// the handshake goes out on the broadcast channel
	require.Len(t, dev.writes, 1)
	assert.Equal(t, BROADCAST_CID[:], dev.writes[0][1:5])
	assert.Equal(t, byte(CTAPHID_INIT)|INIT_PACKET_BIT, dev.writes[0][5])
	assert.Equal(t, nonce, dev.writes[0][8:16])
}

func TestInit_NonceMismatch(t *testing.T) {
	nonce := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
	payload := make([]byte, 17)
	copy(payload, []byte{0xde, 0xad, 0xbe, 0xef, 0xde, 0xad, 0xbe, 0xef})

	dev := &fakeDevice{t: t, reports: respond(t, BROADCAST_CID, CTAPHID_INIT, payload)}

	_, err := Init(dev, nonce)
	assert.ErrorIs(t, err, ErrNonceMismatch)
}

func TestCBOR_GetInfo(t *testing.T) {
	body := []byte{0x00, 0xA1, 0x01, 0x80} // CTAP2_OK plus CBOR body
	dev := &fakeDevice{t: t, reports: respond(t, testCID, CTAPHID_CBOR, body)}

	resp, err := CBOR(dev, testCID, []byte{0x04})
	require.NoError(t, err)
	assert.Equal(t, body, resp)

	require.Len(t, dev.writes, 1)
	report := dev.writes[0]
	assert.Equal(t, testCID[:], report[1:5])
	assert.Equal(t, byte(CTAPHID_CBOR)|INIT_PACKET_BIT, report[5])
	assert.Equal(t, []byte{0x00, 0x01}, report[6:8])
	assert.Equal(t, byte(0x04), report[8])
}

func TestCBOR_SkipsKeepalives(t *testing.T) {
	reports := [][]byte{
		keepaliveReport(testCID, STATUS_PROCESSING),
		keepaliveReport(testCID, STATUS_UPNEEDED),
	}
	reports = append(reports, respond(t, testCID, CTAPHID_CBOR, []byte{0x00, 0xA1, 0x01})...)

	dev := &fakeDevice{t: t, reports: reports}

	resp, err := CBOR(dev, testCID, []byte{0x02})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0xA1, 0x01}, resp)
}

func TestExchange_ErrorFrame(t *testing.T) {
	dev := &fakeDevice{t: t, reports: respond(t, testCID, CTAPHID_ERROR, []byte{byte(ERR_CHANNEL_BUSY)})}

	_, err := Exchange(dev, testCID, CTAPHID_CBOR, []byte{0x04})

	var devErr *DeviceError
	require.ErrorAs(t, err, &devErr)
	assert.Equal(t, ERR_CHANNEL_BUSY, devErr.Code)
}

func TestExchange_LongResponse(t *testing.T) {
	body := pattern(502)
	dev := &fakeDevice{t: t, reports: respond(t, testCID, CTAPHID_CBOR, body)}

	resp, err := CBOR(dev, testCID, []byte{0x01})
	require.NoError(t, err)
	assert.Equal(t, body, resp)
}
