package usbhid

import (
	"strings"

	"github.com/sstallion/go-hid"

	"github.com/go-ctap/ctapdev/pkg/options"
)

// FIDO authenticators expose usage 0x0001 on the FIDO Alliance usage
// page 0xF1D0.
const (
	fidoUsagePage = 0xf1d0
	fidoUsage     = 0x0001
)

// DeviceInfo describes an enumerable FIDO HID device.
type DeviceInfo struct {
	Path         string
	VendorID     uint16
	ProductID    uint16
	Manufacturer string
	Product      string
	SerialNumber string
}

// Name returns a human-readable device name.
func (i *DeviceInfo) Name() string {
	name := strings.TrimSpace(i.Manufacturer + " " + i.Product)
	if name == "" {
		return i.Path
	}
	return name
}

// Enumerate lists HID devices advertising the FIDO usage page/usage
// pair. Every candidate is probe-opened to confirm it is accessible;
// probe streams are closed before returning.
func Enumerate(opts ...options.Option) ([]*DeviceInfo, error) {
	oo := options.NewOptions(opts...)

	infos := make([]*DeviceInfo, 0)
	if err := enumerate(oo, func(info *hid.DeviceInfo) error {
		if info.UsagePage != fidoUsagePage || info.Usage != fidoUsage {
			return nil
		}

		stream, err := openPath(oo, info.Path)
		if err != nil {
			return nil
		}
		_ = stream.Close()

		infos = append(infos, &DeviceInfo{
			Path:         info.Path,
			VendorID:     info.VendorID,
			ProductID:    info.ProductID,
			Manufacturer: info.MfrStr,
			Product:      info.ProductStr,
			SerialNumber: info.SerialNbr,
		})
		return nil
	}); err != nil {
		return nil, err
	}

	return infos, nil
}

// devicePresent reports whether path is still enumerable.
func devicePresent(oo *options.Options, path string) bool {
	present := false
	_ = enumerate(oo, func(info *hid.DeviceInfo) error {
		if info.Path == path {
			present = true
		}
		return nil
	})
	return present
}
