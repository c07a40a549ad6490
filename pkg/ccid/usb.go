package ccid

import (
	"context"
	"fmt"
	"time"

	"github.com/google/gousb"
	"github.com/samber/mo"
)

// usbConn owns the libusb resources of one open reader and exposes its
// bulk endpoint pair.
type usbConn struct {
	usbCtx *gousb.Context
	dev    *gousb.Device
	cfg    *gousb.Config
	intf   *gousb.Interface
	out    *gousb.OutEndpoint
	in     *gousb.InEndpoint

	readTimeout time.Duration
}

func (c *usbConn) WriteBulk(ctx context.Context, p []byte) (int, error) {
	return c.out.WriteContext(ctx, p)
}

func (c *usbConn) ReadBulk(ctx context.Context, p []byte) (int, error) {
	// each bulk chunk gets its own deadline
	tctx, cancel := context.WithTimeout(ctx, c.readTimeout)
	defer cancel()

	return c.in.ReadContext(tctx, p)
}

func (c *usbConn) Close() error {
	if c.intf != nil {
		c.intf.Close()
	}
	if c.cfg != nil {
		_ = c.cfg.Close()
	}
	if c.dev != nil {
		_ = c.dev.Close()
	}
	if c.usbCtx != nil {
		_ = c.usbCtx.Close()
	}
	return nil
}

// ccidEndpoints locates the smart-card interface of a device and its
// bulk endpoint pair. The interrupt endpoint announces card insertion
// and is optional.
type ccidEndpoints struct {
	config    int
	intf      int
	out       int
	in        int
	interrupt mo.Option[int]
}

func findCCIDEndpoints(desc *gousb.DeviceDesc) (*ccidEndpoints, error) {
	for _, cfg := range desc.Configs {
		for _, intf := range cfg.Interfaces {
			if len(intf.AltSettings) == 0 {
				continue
			}

			setting := intf.AltSettings[0]
			if setting.Class != smartCardClass {
				continue
			}

			eps := &ccidEndpoints{config: cfg.Number, intf: intf.Number, out: -1, in: -1}
			for _, ep := range setting.Endpoints {
				switch {
				case ep.TransferType == gousb.TransferTypeBulk && ep.Direction == gousb.EndpointDirectionOut:
					eps.out = ep.Number
				case ep.TransferType == gousb.TransferTypeBulk && ep.Direction == gousb.EndpointDirectionIn:
					eps.in = ep.Number
				case ep.TransferType == gousb.TransferTypeInterrupt && ep.Direction == gousb.EndpointDirectionIn:
					eps.interrupt = mo.Some(ep.Number)
				}
			}

			if eps.out < 0 || eps.in < 0 {
				continue
			}
			return eps, nil
		}
	}

	return nil, ErrNoCCIDInterface
}

// openUSB opens the reader at "bus:address" and claims its smart-card
// interface.
func openUSB(path string, readTimeout time.Duration) (bulkConn, error) {
	var bus, address int
	if _, err := fmt.Sscanf(path, "%d:%d", &bus, &address); err != nil {
		return nil, fmt.Errorf("ccid: invalid device path %q: %w", path, err)
	}

	usbCtx := gousb.NewContext()

	devs, err := usbCtx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return desc.Bus == bus && desc.Address == address
	})
	if err != nil || len(devs) == 0 {
		for _, dev := range devs {
			_ = dev.Close()
		}
		_ = usbCtx.Close()
		return nil, fmt.Errorf("ccid: cannot open device %q: %w", path, err)
	}

	dev := devs[0]
	for _, extra := range devs[1:] {
		_ = extra.Close()
	}

	conn, err := claimInterface(dev, readTimeout)
	if err != nil {
		_ = dev.Close()
		_ = usbCtx.Close()
		return nil, err
	}

	// the connection owns the context and device handle from here on
	conn.usbCtx = usbCtx
	conn.dev = dev
	return conn, nil
}

// claimInterface claims the smart-card interface and resolves its bulk
// endpoints. Ownership of dev stays with the caller.
func claimInterface(dev *gousb.Device, readTimeout time.Duration) (*usbConn, error) {
	eps, err := findCCIDEndpoints(dev.Desc)
	if err != nil {
		return nil, err
	}

	_ = dev.SetAutoDetach(true)

	cfg, err := dev.Config(eps.config)
	if err != nil {
		return nil, fmt.Errorf("ccid: claim config %d: %w", eps.config, err)
	}

	intf, err := cfg.Interface(eps.intf, 0)
	if err != nil {
		_ = cfg.Close()
		return nil, fmt.Errorf("ccid: claim interface %d: %w", eps.intf, err)
	}

	out, err := intf.OutEndpoint(eps.out)
	if err != nil {
		intf.Close()
		_ = cfg.Close()
		return nil, fmt.Errorf("ccid: out endpoint %d: %w", eps.out, err)
	}

	in, err := intf.InEndpoint(eps.in)
	if err != nil {
		intf.Close()
		_ = cfg.Close()
		return nil, fmt.Errorf("ccid: in endpoint %d: %w", eps.in, err)
	}

	return &usbConn{
		cfg:         cfg,
		intf:        intf,
		out:         out,
		in:          in,
		readTimeout: readTimeout,
	}, nil
}
