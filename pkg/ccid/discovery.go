package ccid

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/gousb"

	"github.com/go-ctap/ctapdev/pkg/iso7816"
	"github.com/go-ctap/ctapdev/pkg/options"
)

// DeviceInfo describes a CCID reader that answered the FIDO applet
// SELECT during discovery. The handle itself is opened later with
// Open(info.Path); descriptor and handle lifetimes are disjoint.
type DeviceInfo struct {
	Path         string // "bus:address"
	VendorID     uint16
	ProductID    uint16
	Manufacturer string
	Product      string
}

// Name returns a human-readable device name.
func (i *DeviceInfo) Name() string {
	name := strings.TrimSpace(i.Manufacturer + " " + i.Product)
	if name == "" {
		return "CCID reader " + i.Path
	}
	return name
}

// Enumerate lists smart-card-class USB devices with a usable bulk
// endpoint pair, keeping those where the FIDO applet selects cleanly.
func Enumerate(opts ...options.Option) ([]*DeviceInfo, error) {
	oo := options.NewOptions(opts...)

	usbCtx := gousb.NewContext()
	defer func() {
		_ = usbCtx.Close()
	}()

	devs, err := usbCtx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		_, err := findCCIDEndpoints(desc)
		return err == nil
	})
	// OpenDevices can return opened devices alongside an error for the
	// ones it could not open; probe what we got.
	defer func() {
		for _, dev := range devs {
			_ = dev.Close()
		}
	}()
	if len(devs) == 0 && err != nil {
		return nil, fmt.Errorf("ccid: enumerate: %w", err)
	}

	readTimeout := oo.ReadTimeout
	if readTimeout == 0 {
		readTimeout = defaultBulkTimeout
	}

	infos := make([]*DeviceInfo, 0)
	for _, dev := range devs {
		info, ok := probe(oo, dev, readTimeout)
		if !ok {
			continue
		}
		infos = append(infos, info)
	}

	return infos, nil
}

// probe claims the reader's interface and checks that the card behind
// it hosts the FIDO applet.
func probe(oo *options.Options, dev *gousb.Device, readTimeout time.Duration) (*DeviceInfo, bool) {
	conn, err := claimInterface(dev, readTimeout)
	if err != nil {
		return nil, false
	}
	defer func() {
		_ = conn.Close()
	}()

	d := &Device{
		conn:        conn,
		readTimeout: readTimeout,
		logger:      oo.Logger,
	}

	if err := iso7816.SelectFIDOApplet(&apduPipe{d: d, ctx: oo.Context}); err != nil {
		oo.Logger.Debug("ccid probe refused FIDO applet",
			"bus", dev.Desc.Bus, "address", dev.Desc.Address, "err", err)
		return nil, false
	}

	manufacturer, _ := dev.Manufacturer()
	product, _ := dev.Product()

	return &DeviceInfo{
		Path:         fmt.Sprintf("%03d:%03d", dev.Desc.Bus, dev.Desc.Address),
		VendorID:     uint16(dev.Desc.Vendor),
		ProductID:    uint16(dev.Desc.Product),
		Manufacturer: manufacturer,
		Product:      product,
	}, true
}
