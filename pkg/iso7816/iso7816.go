// Package iso7816 implements the CTAP-over-ISO-7816 framing used by
// NFC transports: FIDO applet selection, command chaining with short
// APDUs, and response drainage. It is transport-agnostic; PC/SC and raw
// CCID both drive it through the Transmitter interface.
package iso7816

import (
	"context"

	"github.com/samber/lo"
	"github.com/skythen/apdu"
)

// Transmitter carries one raw APDU to the card and returns the raw
// response, status word included.
type Transmitter interface {
	Transmit(capdu []byte) ([]byte, error)
}

// FIDOAID identifies the FIDO applet.
var FIDOAID = []byte{0xA0, 0x00, 0x00, 0x06, 0x47, 0x2F, 0x00, 0x01}

// MaxChainBlockLen caps the data field of a chained short APDU,
// leaving room for the header, Le, and reader-added bytes.
const MaxChainBlockLen = 251

const (
	claChained = 0x90 // CTAP chaining bit set, more blocks follow
	claFinal   = 0x80 // last block of a chained CTAP message

	insSelect      = 0xA4
	insCTAPMsg     = 0x10
	insCTAPGetNext = 0x11
	insGetResponse = 0xC0

	swSuccess      = 0x9000
	swCTAPMoreData = 0x9100 // CTAP "response did not fit, ask again"
	sw1MoreDataISO = 0x61   // ISO GET RESPONSE, SW2 carries the length
)

// SelectApplet selects an applet by AID and fails on any status word
// other than 0x9000.
func SelectApplet(t Transmitter, aid []byte) error {
	resp, err := transmit(t, apdu.Capdu{Cla: 0x00, Ins: insSelect, P1: 0x04, P2: 0x00, Data: aid, Ne: 256})
	if err != nil {
		return err
	}
	if sw(resp) != swSuccess {
		return &SelectError{StatusError{SW1: resp.SW1, SW2: resp.SW2}}
	}

	return nil
}

// SelectFIDOApplet selects the FIDO applet.
func SelectFIDOApplet(t Transmitter) error {
	return SelectApplet(t, FIDOAID)
}

// SendCTAP carries one CTAP message to the applet using command
// chaining and drains the full response. The context is observed
// between APDU exchanges only; an in-flight transmit is never
// interrupted.
func SendCTAP(ctx context.Context, t Transmitter, data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, ErrEmptyMessage
	}

	blocks := lo.Chunk(data, MaxChainBlockLen)

	var resp *apdu.Rapdu
	for i, block := range blocks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		cla := byte(claChained)
		if i == len(blocks)-1 {
			cla = claFinal
		}

		var err error
		resp, err = transmit(t, apdu.Capdu{Cla: cla, Ins: insCTAPMsg, Data: block, Ne: 256})
		if err != nil {
			return nil, err
		}

		if i < len(blocks)-1 {
			// intermediate blocks only acknowledge
			if sw(resp) != swSuccess {
				return nil, &ChainError{StatusError{SW1: resp.SW1, SW2: resp.SW2}}
			}
			if len(resp.Data) != 0 {
				return nil, ErrUnexpectedChainData
			}
		}
	}

	out := append([]byte(nil), resp.Data...)
	for sw(resp) != swSuccess {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var next apdu.Capdu
		switch {
		case sw(resp) == swCTAPMoreData:
			next = apdu.Capdu{Cla: claFinal, Ins: insCTAPGetNext, Ne: 256}
		case resp.SW1 == sw1MoreDataISO:
			ne := int(resp.SW2)
			if ne == 0 {
				ne = 256
			}
			next = apdu.Capdu{Cla: 0x00, Ins: insGetResponse, Ne: ne}
		default:
			return nil, &StatusError{SW1: resp.SW1, SW2: resp.SW2}
		}

		var err error
		resp, err = transmit(t, next)
		if err != nil {
			return nil, err
		}
		out = append(out, resp.Data...)
	}

	if len(out) == 0 {
		return nil, ErrEmptyResponse
	}

	return out, nil
}

func transmit(t Transmitter, capdu apdu.Capdu) (*apdu.Rapdu, error) {
	b, err := capdu.Bytes()
	if err != nil {
		return nil, err
	}

	raw, err := t.Transmit(b)
	if err != nil {
		return nil, err
	}

	return apdu.ParseRapdu(raw)
}

func sw(r *apdu.Rapdu) uint16 {
	return uint16(r.SW1)<<8 | uint16(r.SW2)
}
