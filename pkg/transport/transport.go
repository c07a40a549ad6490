// Package transport abstracts the three wire engines behind a uniform
// send/close contract and a flat discovery sequence.
package transport

import (
	"context"
	"errors"
	"iter"

	"github.com/go-ctap/ctapdev/pkg/ccid"
	"github.com/go-ctap/ctapdev/pkg/options"
	"github.com/go-ctap/ctapdev/pkg/pcsc"
	"github.com/go-ctap/ctapdev/pkg/usbhid"
)

// Transport tags the physical transport of a discovered device.
type Transport byte

const (
	USB Transport = iota + 1
	NFC
)

func (t Transport) String() string {
	switch t {
	case USB:
		return "usb"
	case NFC:
		return "nfc"
	default:
		return "unknown"
	}
}

// Sender is the capability set every open handle provides. Send
// carries one CTAP message and returns the raw response, status byte
// included; Close releases the underlying OS handle and is idempotent.
type Sender interface {
	Send(ctx context.Context, data []byte) ([]byte, error)
	Close() error
}

var ErrUnknownVariant = errors.New("transport: unknown device variant")

type variant byte

const (
	variantUSBHID variant = iota + 1
	variantPCSC
	variantCCID
)

// DeviceInfo identifies a discovered device. Open turns it into a live
// handle; descriptors stay valid independently of the enumeration that
// produced them.
type DeviceInfo struct {
	Name      string
	Path      string
	Transport Transport

	variant variant
}

// Open opens the device this descriptor names.
func (i *DeviceInfo) Open(opts ...options.Option) (Sender, error) {
	switch i.variant {
	case variantUSBHID:
		return usbhid.Open(i.Path, opts...)
	case variantPCSC:
		return pcsc.Open(i.Path, opts...)
	case variantCCID:
		return ccid.Open(i.Path, opts...)
	default:
		return nil, ErrUnknownVariant
	}
}

// Discover yields attached FIDO devices across all transports:
// USB-HID devices first, then PC/SC readers, then raw CCID readers.
// An enumeration failure of one engine is yielded as an error and does
// not stop the others.
func Discover(opts ...options.Option) iter.Seq2[*DeviceInfo, error] {
	return func(yield func(*DeviceInfo, error) bool) {
		hidInfos, err := usbhid.Enumerate(opts...)
		if err != nil && !yield(nil, err) {
			return
		}
		for _, info := range hidInfos {
			if !yield(&DeviceInfo{
				Name:      info.Name(),
				Path:      info.Path,
				Transport: USB,
				variant:   variantUSBHID,
			}, nil) {
				return
			}
		}

		readers, err := pcsc.Enumerate(opts...)
		if err != nil && !yield(nil, err) {
			return
		}
		for _, reader := range readers {
			if !yield(&DeviceInfo{
				Name:      reader,
				Path:      reader,
				Transport: NFC,
				variant:   variantPCSC,
			}, nil) {
				return
			}
		}

		ccidInfos, err := ccid.Enumerate(opts...)
		if err != nil && !yield(nil, err) {
			return
		}
		for _, info := range ccidInfos {
			if !yield(&DeviceInfo{
				Name:      info.Name(),
				Path:      info.Path,
				Transport: NFC,
				variant:   variantCCID,
			}, nil) {
				return
			}
		}
	}
}
