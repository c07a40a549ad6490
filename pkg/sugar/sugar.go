// Package sugar bundles the discovery and command layers into a few
// convenience calls for applications that just want a working token.
package sugar

import (
	"context"
	"errors"
	"sync"

	"github.com/samber/mo"

	"github.com/go-ctap/ctapdev/pkg/ctap"
	"github.com/go-ctap/ctapdev/pkg/options"
	"github.com/go-ctap/ctapdev/pkg/transport"
)

var ErrNoDevices = errors.New("sugar: no FIDO devices found")

// EnumerateDevices collects discovery across every transport,
// skipping engines that fail to enumerate.
func EnumerateDevices(opts ...options.Option) []*transport.DeviceInfo {
	infos := make([]*transport.DeviceInfo, 0)
	for info, err := range transport.Discover(opts...) {
		if err != nil {
			continue
		}
		infos = append(infos, info)
	}
	return infos
}

type selected struct {
	dev  transport.Sender
	info *transport.DeviceInfo
}

// SelectDevice opens a discovered device. With several candidates each
// is probed with getInfo concurrently and the first to answer wins;
// the rest are closed.
func SelectDevice(opts ...options.Option) (transport.Sender, *transport.DeviceInfo, error) {
	oo := options.NewOptions(opts...)

	infos := EnumerateDevices(opts...)
	if len(infos) == 0 {
		return nil, nil, ErrNoDevices
	}

	if len(infos) == 1 {
		dev, err := infos[0].Open(opts...)
		if err != nil {
			return nil, nil, err
		}
		return dev, infos[0], nil
	}

	// the first probe to finish decides, with its device or its error;
	// the channel is sized so that every probe can report without blocking
	selection := make(chan mo.Either[*selected, error], len(infos))

	ctx, cancel := context.WithCancel(oo.Context)
	defer cancel()

	var wg sync.WaitGroup
	var once sync.Once

	devs := make([]transport.Sender, 0, len(infos))
	for _, info := range infos {
		dev, err := info.Open(opts...)
		if err != nil {
			continue
		}
		devs = append(devs, dev)

		wg.Add(1)
		go func(dev transport.Sender, info *transport.DeviceInfo) {
			defer wg.Done()

			client := ctap.NewClient(dev, info.Name, opts...)
			_, err := client.GetInfo(ctx)

			if !errors.Is(ctx.Err(), context.Canceled) {
				once.Do(func() {
					cancel()
					if err != nil {
						selection <- mo.Right[*selected, error](err)
						return
					}
					selection <- mo.Left[*selected, error](&selected{dev: dev, info: info})
				})
			}
		}(dev, info)
	}

	if len(devs) == 0 {
		return nil, nil, ErrNoDevices
	}

	wg.Wait()

	sel := <-selection
	if err, ok := sel.Right(); ok {
		for _, dev := range devs {
			_ = dev.Close()
		}
		return nil, nil, err
	}

	winner := sel.MustLeft()
	for _, dev := range devs {
		if dev == winner.dev {
			continue
		}
		_ = dev.Close()
	}

	return winner.dev, winner.info, nil
}
