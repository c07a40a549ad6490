package usbhid

import (
	"io"

	"github.com/Microsoft/go-winio"
	"github.com/fxamacker/cbor/v2"
	"github.com/sstallion/go-hid"

	"github.com/go-ctap/ctapdev/pkg/hidproxy"
	"github.com/go-ctap/ctapdev/pkg/options"
)

// On Windows raw FIDO HID access is restricted to privileged processes;
// the named-pipe path relays enumeration and report traffic through the
// hidproxy helper instead.

func enumerate(oo *options.Options, fn hid.EnumFunc) error {
	if !oo.UseNamedPipe {
		return hid.Enumerate(hid.VendorIDAny, hid.ProductIDAny, fn)
	}

	pipe, err := winio.DialPipeContext(oo.Context, hidproxy.NamedPipePath)
	if err != nil {
		return err
	}
	defer func() {
		_ = pipe.Close()
	}()

	msg, err := hidproxy.NewMessage(hidproxy.CommandEnumerate, nil)
	if err != nil {
		return err
	}
	if _, err := msg.WriteTo(pipe); err != nil {
		return err
	}

	msg, err = hidproxy.ParseMessage(pipe)
	if err != nil {
		return err
	}

	infos := make([]*hid.DeviceInfo, 0)
	if err := cbor.Unmarshal(msg.Data, &infos); err != nil {
		return err
	}

	for _, info := range infos {
		if err := fn(info); err != nil {
			return err
		}
	}
	return nil
}

func openPath(oo *options.Options, path string) (io.ReadWriteCloser, error) {
	if !oo.UseNamedPipe {
		return hid.OpenPath(path)
	}

	pipe, err := winio.DialPipeContext(oo.Context, hidproxy.NamedPipePath)
	if err != nil {
		return nil, err
	}

	msg, err := hidproxy.NewMessage(hidproxy.CommandStart, path)
	if err != nil {
		_ = pipe.Close()
		return nil, err
	}
	if _, err := msg.WriteTo(pipe); err != nil {
		_ = pipe.Close()
		return nil, err
	}

	return pipe, nil
}
