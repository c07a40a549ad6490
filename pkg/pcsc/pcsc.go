// Package pcsc drives FIDO authenticators presented through a PC/SC
// smart-card reader. Every Send is a full reader transaction: connect,
// select the FIDO applet, exchange the chained CTAP message, disconnect
// leaving the card state untouched.
package pcsc

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/ebfe/scard"

	"github.com/go-ctap/ctapdev/pkg/iso7816"
	"github.com/go-ctap/ctapdev/pkg/options"
)

// Enumerate lists the names of readers that currently present a card
// answering the FIDO applet SELECT. Probe connections are disconnected
// (card left) on every exit path.
func Enumerate(opts ...options.Option) ([]string, error) {
	oo := options.NewOptions(opts...)

	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, fmt.Errorf("pcsc: establish context: %w", err)
	}
	defer func() {
		_ = ctx.Release()
	}()

	readers, err := ctx.ListReaders()
	if err != nil {
		// no readers attached is not an enumeration failure
		return nil, nil
	}

	names := make([]string, 0, len(readers))
	for _, reader := range readers {
		card, err := ctx.Connect(reader, scard.ShareShared, scard.ProtocolAny)
		if err != nil {
			continue
		}

		if err := iso7816.SelectFIDOApplet(card); err != nil {
			oo.Logger.Debug("pcsc reader probe refused FIDO applet", "reader", reader, "err", err)
			_ = card.Disconnect(scard.LeaveCard)
			continue
		}

		_ = card.Disconnect(scard.LeaveCard)
		names = append(names, reader)
	}

	return names, nil
}

// Reader is an open handle to one named PC/SC reader.
type Reader struct {
	Name string

	ctx    *scard.Context
	logger *slog.Logger
	closed bool
}

// Open establishes a system-scope PC/SC context bound to the named
// reader. The card itself is connected per Send.
func Open(name string, opts ...options.Option) (*Reader, error) {
	oo := options.NewOptions(opts...)

	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, fmt.Errorf("pcsc: establish context: %w", err)
	}

	return &Reader{
		Name:   name,
		ctx:    ctx,
		logger: oo.Logger,
	}, nil
}

// Send carries one CTAP message to the applet and returns the raw
// response, status byte included. Cancellation is observed between
// APDU exchanges; an in-flight Transmit is never interrupted.
func (r *Reader) Send(ctx context.Context, data []byte) ([]byte, error) {
	if r.closed {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	card, err := r.ctx.Connect(r.Name, scard.ShareShared, scard.ProtocolAny)
	if err != nil {
		return nil, fmt.Errorf("pcsc: connect %q: %w", r.Name, err)
	}
	defer func() {
		_ = card.Disconnect(scard.LeaveCard)
	}()

	if err := iso7816.SelectFIDOApplet(card); err != nil {
		return nil, err
	}

	r.logger.Debug("pcsc request", "reader", r.Name, "hex", hex.EncodeToString(data))

	resp, err := iso7816.SendCTAP(ctx, card, data)
	if err != nil {
		return nil, err
	}

	r.logger.Debug("pcsc response", "reader", r.Name, "hex", hex.EncodeToString(resp))
	return resp, nil
}

// Close releases the PC/SC context. It is idempotent and swallows
// teardown errors.
func (r *Reader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	if r.ctx != nil {
		_ = r.ctx.Release()
	}
	return nil
}
