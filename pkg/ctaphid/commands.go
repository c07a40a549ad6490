package ctaphid

import (
	"crypto/subtle"
	"io"
)

// InitResponse represents a CTAPHID_INIT (0x06) command response.
// https://fidoalliance.org/specs/fido-v2.0-ps-20190130/fido-client-to-authenticator-protocol-v2.0-ps-20190130.html#usb-hid-init
type InitResponse struct {
	Nonce                            []byte
	CID                              ChannelID
	CTAPHIDProtocolVersionIdentifier byte
	MajorDeviceVersion               byte
	MinorDeviceVersion               byte
	BuildDeviceVersion               byte
	CapabilityFlags                  byte
}

func (r *InitResponse) ImplementsWink() bool {
	return r.CapabilityFlags&byte(CAPABILITY_WINK) != 0
}

func (r *InitResponse) ImplementsCBOR() bool {
	return r.CapabilityFlags&byte(CAPABILITY_CBOR) != 0
}

func (r *InitResponse) NotImplementsMSG() bool {
	return r.CapabilityFlags&byte(CAPABILITY_NMSG) != 0
}

// Exchange writes one message and reads back the matching response
// message, skipping keep-alive frames. A CTAPHID_ERROR response is
// surfaced as a DeviceError.
func Exchange(dev io.ReadWriter, cid ChannelID, cmd Command, data []byte) ([]byte, error) {
	msg, err := NewMessage(cid, cmd, data)
	if err != nil {
		return nil, err
	}

	if _, err := msg.WriteTo(dev); err != nil {
		return nil, err
	}

	respCmd, respData, err := ReadMessage(dev)
	if err != nil {
		return nil, err
	}

	switch respCmd {
	case cmd:
		return respData, nil
	case CTAPHID_ERROR:
		if len(respData) < 1 {
			return nil, ErrInvalidResponseMessage
		}
		return nil, &DeviceError{Code: Error(respData[0])}
	default:
		return nil, ErrUnexpectedCommand
	}
}

// Init performs the channel allocation handshake on the broadcast
// channel. The response payload must echo the 8-byte nonce; bytes 8..12
// carry the allocated channel ID.
func Init(dev io.ReadWriter, nonce []byte) (*InitResponse, error) {
	resp, err := Exchange(dev, BROADCAST_CID, CTAPHID_INIT, nonce)
	if err != nil {
		return nil, err
	}
	if len(resp) < 17 {
		return nil, ErrInvalidResponseMessage
	}

	if subtle.ConstantTimeCompare(resp[:8], nonce) != 1 {
		return nil, ErrNonceMismatch
	}

	return &InitResponse{
		Nonce:                            resp[:8],
		CID:                              ChannelID(resp[8:12]),
		CTAPHIDProtocolVersionIdentifier: resp[12],
		MajorDeviceVersion:               resp[13],
		MinorDeviceVersion:               resp[14],
		BuildDeviceVersion:               resp[15],
		CapabilityFlags:                  resp[16],
	}, nil
}

// CBOR sends an encoded CTAP request on the channel and returns the raw
// response payload, status byte included.
func CBOR(dev io.ReadWriter, cid ChannelID, data []byte) ([]byte, error) {
	resp, err := Exchange(dev, cid, CTAPHID_CBOR, data)
	if err != nil {
		return nil, err
	}
	if len(resp) < 1 {
		return nil, ErrInvalidResponseMessage
	}

	return resp, nil
}

// Ping echoes arbitrary bytes off the authenticator.
func Ping(dev io.ReadWriter, cid ChannelID, ping []byte) ([]byte, error) {
	return Exchange(dev, cid, CTAPHID_PING, ping)
}

// Cancel aborts the pending transaction on the channel. The cancelled
// command answers with CTAP2_ERR_KEEPALIVE_CANCEL; no response belongs
// to the cancel message itself.
func Cancel(dev io.Writer, cid ChannelID) error {
	msg, err := NewMessage(cid, CTAPHID_CANCEL, nil)
	if err != nil {
		return err
	}

	_, err = msg.WriteTo(dev)
	return err
}
