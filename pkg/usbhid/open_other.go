//go:build !windows

package usbhid

import (
	"io"

	"github.com/sstallion/go-hid"

	"github.com/go-ctap/ctapdev/pkg/options"
)

func enumerate(oo *options.Options, fn hid.EnumFunc) error {
	if oo.UseNamedPipe {
		return ErrNotSupported
	}
	return hid.Enumerate(hid.VendorIDAny, hid.ProductIDAny, fn)
}

func openPath(oo *options.Options, path string) (io.ReadWriteCloser, error) {
	if oo.UseNamedPipe {
		return nil, ErrNotSupported
	}
	return hid.OpenPath(path)
}
