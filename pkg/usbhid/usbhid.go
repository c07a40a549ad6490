// Package usbhid drives FIDO authenticators over the CTAPHID channel
// protocol: it opens the HID report stream, allocates a channel via
// CTAPHID_INIT, and exchanges CBOR messages with keep-alive filtering
// and transparent stream recovery.
package usbhid

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/go-ctap/ctapdev/pkg/ctaphid"
	"github.com/go-ctap/ctapdev/pkg/options"
)

const (
	defaultReadTimeout = 10 * time.Second
	initTimeout        = 3 * time.Second
	openRetryDelay     = 500 * time.Millisecond
)

// Device is an open CTAPHID channel to a single authenticator. It is
// single-owner; concurrent Sends on one Device are not supported.
type Device struct {
	Name string
	Path string

	stream      io.ReadWriteCloser
	cid         ctaphid.ChannelID
	caps        byte
	readTimeout time.Duration
	logger      *slog.Logger
	closed      bool

	// overridable for tests
	openStream func() (io.ReadWriteCloser, error)
	enumerable func() bool
}

// timeoutReader is satisfied by *hid.Device; the named-pipe stream on
// Windows falls back to plain blocking reads.
type timeoutReader interface {
	ReadWithTimeout(b []byte, timeout time.Duration) (int, error)
}

// Open opens the HID stream at path and performs the INIT handshake.
// A failed open is retried once after a short pause while the device is
// still enumerable.
func Open(path string, opts ...options.Option) (*Device, error) {
	oo := options.NewOptions(opts...)

	d := &Device{
		Path:        path,
		readTimeout: oo.ReadTimeout,
		logger:      oo.Logger,
		openStream: func() (io.ReadWriteCloser, error) {
			return openPath(oo, path)
		},
		enumerable: func() bool {
			return devicePresent(oo, path)
		},
	}
	if d.readTimeout == 0 {
		d.readTimeout = defaultReadTimeout
	}

	stream, err := d.openStream()
	if err != nil {
		if !d.enumerable() {
			return nil, fmt.Errorf("usbhid: device not connected: %w", err)
		}

		time.Sleep(openRetryDelay)
		stream, err = d.openStream()
		if err != nil {
			if d.enumerable() {
				return nil, fmt.Errorf("usbhid: open failed, device present: %w", err)
			}
			return nil, fmt.Errorf("usbhid: device not connected: %w", err)
		}
	}
	d.stream = stream

	if err := d.init(); err != nil {
		_ = stream.Close()
		return nil, fmt.Errorf("usbhid: init failed: %w", err)
	}

	return d, nil
}

// init allocates a channel on the broadcast CID. The nonce echo is
// verified by ctaphid.Init; reads run under the shorter INIT timeout.
func (d *Device) init() error {
	nonce := make([]byte, 8)
	if _, err := rand.Read(nonce); err != nil {
		return err
	}

	resp, err := ctaphid.Init(&deadlineStream{d: d, timeout: initTimeout}, nonce)
	if err != nil {
		return err
	}

	d.cid = resp.CID
	d.caps = resp.CapabilityFlags
	d.logger.Debug("ctaphid channel allocated",
		"path", d.Path, "cid", hex.EncodeToString(d.cid[:]))

	return nil
}

// ChannelID returns the channel allocated by INIT.
func (d *Device) ChannelID() ctaphid.ChannelID {
	return d.cid
}

// ImplementsCBOR reports whether INIT announced CTAPHID_CBOR support.
func (d *Device) ImplementsCBOR() bool {
	return d.caps&byte(ctaphid.CAPABILITY_CBOR) != 0
}

// Send writes one CTAP message as a CTAPHID_CBOR exchange and returns
// the raw response payload, status byte included. The context is
// checked between report reads; on cancellation the stream is closed
// and ctx.Err() is returned.
func (d *Device) Send(ctx context.Context, data []byte) ([]byte, error) {
	if d.closed {
		return nil, ErrClosed
	}

	msg, err := ctaphid.NewMessage(d.cid, ctaphid.CTAPHID_CBOR, data)
	if err != nil {
		return nil, err
	}

	d.logger.Debug("ctaphid request", "cid", hex.EncodeToString(d.cid[:]), "hex", hex.EncodeToString(data))

	if _, err := msg.WriteTo(d.stream); err != nil {
		// one transparent reopen on a write fault
		if err := d.reopen(); err != nil {
			return nil, err
		}
		if _, err := msg.WriteTo(d.stream); err != nil {
			return nil, err
		}
	}

	cmd, resp, err := d.readMessage(ctx)
	if err != nil && isStreamFault(err) {
		if err := d.reopen(); err != nil {
			return nil, err
		}
		cmd, resp, err = d.readMessage(ctx)
	}
	if err != nil {
		return nil, err
	}

	d.logger.Debug("ctaphid response", "cid", hex.EncodeToString(d.cid[:]), "hex", hex.EncodeToString(resp))

	switch cmd {
	case ctaphid.CTAPHID_CBOR:
		if len(resp) < 1 {
			return nil, ctaphid.ErrInvalidResponseMessage
		}
		return resp, nil
	case ctaphid.CTAPHID_ERROR:
		if len(resp) < 1 {
			return nil, ctaphid.ErrInvalidResponseMessage
		}
		return nil, &ctaphid.DeviceError{Code: ctaphid.Error(resp[0])}
	default:
		return nil, ctaphid.ErrUnexpectedCommand
	}
}

// Cancel aborts the transaction pending on this channel.
func (d *Device) Cancel() error {
	if d.closed {
		return ErrClosed
	}
	return ctaphid.Cancel(d.stream, d.cid)
}

func (d *Device) readMessage(ctx context.Context) (ctaphid.Command, []byte, error) {
	var a ctaphid.Reassembler
	report := make([]byte, ctaphid.ReportLen)

	for {
		if err := ctx.Err(); err != nil {
			_ = d.stream.Close()
			return 0, nil, err
		}

		n, err := d.readReport(report)
		if err != nil {
			return 0, nil, err
		}

		done, err := a.Absorb(report[:n])
		if err != nil {
			return 0, nil, err
		}
		if done {
			cmd, data := a.Result()
			return cmd, data, nil
		}
	}
}

func (d *Device) readReport(p []byte) (int, error) {
	if tr, ok := d.stream.(timeoutReader); ok {
		n, err := tr.ReadWithTimeout(p, d.readTimeout)
		if err != nil {
			return n, err
		}
		if n == 0 {
			return 0, ErrReadTimeout
		}
		return n, nil
	}
	return d.stream.Read(p)
}

// reopen replaces a faulted stream. The channel ID survives: it is
// allocated per device, not per open stream.
func (d *Device) reopen() error {
	_ = d.stream.Close()

	stream, err := d.openStream()
	if err != nil {
		return fmt.Errorf("usbhid: reopen failed: %w", err)
	}
	d.stream = stream

	d.logger.Debug("ctaphid stream reopened", "path", d.Path)
	return nil
}

// Close releases the HID stream. It is idempotent and swallows
// teardown errors.
func (d *Device) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	if d.stream != nil {
		_ = d.stream.Close()
	}
	return nil
}

// isStreamFault reports whether err came from the OS stream rather
// than from cancellation or a framing violation.
func isStreamFault(err error) bool {
	switch {
	case errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, ErrReadTimeout),
		errors.Is(err, ctaphid.ErrShortReport),
		errors.Is(err, ctaphid.ErrUnexpectedCommand),
		errors.Is(err, ctaphid.ErrUnexpectedContinuation),
		errors.Is(err, ctaphid.ErrMessageTooLarge):
		return false
	}
	return true
}

// deadlineStream lets ctaphid command helpers read with a timeout that
// differs from the device default (INIT uses 3 s).
type deadlineStream struct {
	d       *Device
	timeout time.Duration
}

func (s *deadlineStream) Read(p []byte) (int, error) {
	if tr, ok := s.d.stream.(timeoutReader); ok {
		n, err := tr.ReadWithTimeout(p, s.timeout)
		if err != nil {
			return n, err
		}
		if n == 0 {
			return 0, ErrReadTimeout
		}
		return n, nil
	}
	return s.d.stream.Read(p)
}

func (s *deadlineStream) Write(p []byte) (int, error) {
	return s.d.stream.Write(p)
}
