// Package ccid drives FIDO authenticators presented by a raw CCID-class
// USB reader: bulk message framing, slot and ICC lifecycle, XfrBlock
// transport with time-extension waiting, and the same ISO 7816 CTAP
// chaining as the PC/SC transport on top.
package ccid

import (
	"context"
	"encoding/hex"
	"log/slog"
	"sync"
	"time"

	"github.com/go-ctap/ctapdev/pkg/iso7816"
	"github.com/go-ctap/ctapdev/pkg/options"
)

const defaultBulkTimeout = 5 * time.Second

// Device is an open handle to one CCID reader slot. The sequence
// counter is the only mutable state shared inside a handle and is
// guarded by its mutex; everything else is single-owner.
type Device struct {
	Name string
	Path string

	mu  sync.Mutex
	seq byte

	conn        bulkConn
	openConn    func(ctx context.Context) (bulkConn, error)
	slot        byte
	readTimeout time.Duration
	logger      *slog.Logger
	closed      bool
}

// Open opens the CCID reader at path ("bus:address").
func Open(path string, opts ...options.Option) (*Device, error) {
	oo := options.NewOptions(opts...)

	d := &Device{
		Name:        path,
		Path:        path,
		readTimeout: oo.ReadTimeout,
		logger:      oo.Logger,
	}
	if d.readTimeout == 0 {
		d.readTimeout = defaultBulkTimeout
	}
	d.openConn = func(ctx context.Context) (bulkConn, error) {
		return openUSB(path, d.readTimeout)
	}

	if err := d.ensureOpen(oo.Context); err != nil {
		return nil, err
	}

	return d, nil
}

// Send carries one CTAP message through the reader and returns the raw
// response, status byte included.
func (d *Device) Send(ctx context.Context, data []byte) ([]byte, error) {
	if d.closed {
		return nil, ErrClosed
	}

	d.logger.Debug("ccid request", "path", d.Path, "hex", hex.EncodeToString(data))

	resp, err := iso7816.SendCTAP(ctx, &apduPipe{d: d, ctx: ctx}, data)
	if err != nil {
		return nil, err
	}

	d.logger.Debug("ccid response", "path", d.Path, "hex", hex.EncodeToString(resp))
	return resp, nil
}

// Close releases the USB handle. It is idempotent and swallows
// teardown errors.
func (d *Device) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	if d.conn != nil {
		_ = d.conn.Close()
		d.conn = nil
	}
	return nil
}

// apduPipe adapts the per-Send context onto the context-free
// iso7816.Transmitter contract.
type apduPipe struct {
	d   *Device
	ctx context.Context
}

func (p *apduPipe) Transmit(capdu []byte) ([]byte, error) {
	return p.d.sendAPDU(p.ctx, capdu)
}

// sendAPDU performs the three-exchange transmission pipeline: slot
// status, power-on when the card is present but inactive, XfrBlock.
func (d *Device) sendAPDU(ctx context.Context, capdu []byte) ([]byte, error) {
	if err := d.ensureOpen(ctx); err != nil {
		return nil, err
	}

	status, err := d.roundTrip(ctx, &Message{Type: msgGetSlotStatus, Slot: d.slot, Seq: d.nextSeq()})
	if err != nil {
		return nil, err
	}
	if status.CommandStatus() == cmdFailed {
		return nil, &ReaderError{Command: msgGetSlotStatus, Code: status.ErrorCode()}
	}

	switch status.ICCStatus() {
	case iccNotPresent:
		return nil, ErrNoCard
	case iccInactive:
		powerOn, err := d.roundTrip(ctx, &Message{Type: msgIccPowerOn, Slot: d.slot, Seq: d.nextSeq()})
		if err != nil {
			return nil, err
		}
		if powerOn.CommandStatus() != cmdSuccess {
			return nil, &ReaderError{Command: msgIccPowerOn, Code: powerOn.ErrorCode()}
		}
	}

	resp, err := d.roundTrip(ctx, &Message{
		Type:  msgXfrBlock,
		Slot:  d.slot,
		Seq:   d.nextSeq(),
		Param: [3]byte{defaultBWI, 0x00, 0x00}, // bBWI | wLevelParameter
		Data:  capdu,
	})
	if err != nil {
		return nil, err
	}
	if resp.CommandStatus() == cmdFailed {
		return nil, &ReaderError{Command: msgXfrBlock, Code: resp.ErrorCode()}
	}

	// abData carries the card's raw APDU response
	return resp.Data, nil
}

// roundTrip writes one command and reads its matching response,
// waiting through TIME_EXTENSION answers.
func (d *Device) roundTrip(ctx context.Context, cmd *Message) (*Message, error) {
	if _, err := d.conn.WriteBulk(ctx, cmd.Marshal()); err != nil {
		return nil, err
	}

	want := expectedResponseType(cmd.Type)
	resp, err := d.readExpected(ctx, want, cmd.Seq)
	if err != nil {
		return nil, err
	}

	for ext := 0; resp.CommandStatus() == cmdTimeExtension; ext++ {
		if ext == maxTimeExtensions {
			return nil, ErrTimeExtensionLimit
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		resp, err = d.readExpected(ctx, want, cmd.Seq)
		if err != nil {
			return nil, err
		}
	}

	return resp, nil
}

// readExpected reads until a message with the expected (type, bSeq)
// arrives, discarding mismatches up to the read limit.
func (d *Device) readExpected(ctx context.Context, wantType, wantSeq byte) (*Message, error) {
	for range maxExpectedReads {
		msg, err := ReadNextMessage(ctx, d.conn)
		if err != nil {
			return nil, err
		}

		if msg.Type == wantType && msg.Seq == wantSeq {
			return msg, nil
		}

		d.logger.Debug("ccid discarding unexpected message",
			"type", msg.Type, "seq", msg.Seq, "wantType", wantType, "wantSeq", wantSeq)
	}

	return nil, ErrResponseMismatch
}

// ensureOpen reopens the USB handle when it was closed between calls.
func (d *Device) ensureOpen(ctx context.Context) error {
	if d.conn != nil {
		return nil
	}

	conn, err := d.openConn(ctx)
	if err != nil {
		return err
	}
	d.conn = conn
	return nil
}

func (d *Device) nextSeq() byte {
	d.mu.Lock()
	defer d.mu.Unlock()

	seq := d.seq
	d.seq++ // wraps mod 256
	return seq
}
