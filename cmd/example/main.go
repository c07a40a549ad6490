package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"github.com/go-ctap/ctapdev/pkg/ctap"
	"github.com/go-ctap/ctapdev/pkg/options"
	"github.com/go-ctap/ctapdev/pkg/sugar"
)

// getInfo fields this example cares about; the library itself hands
// back raw CBOR and leaves interpretation to its caller.
type getInfoResponse struct {
	Versions   []string        `cbor:"1,keyasint"`
	Extensions []string        `cbor:"2,keyasint,omitempty"`
	AAGUID     []byte          `cbor:"3,keyasint"`
	Options    map[string]bool `cbor:"4,keyasint,omitempty"`
}

type pinRetriesResponse struct {
	PinRetries uint `cbor:"3,keyasint"`
}

func main() {
	lvl := new(slog.LevelVar)
	lvl.Set(slog.LevelDebug)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: lvl,
	}))

	dev, info, err := sugar.SelectDevice(
		options.WithLogger(logger),
	)
	if err != nil {
		panic(err)
	}
	defer func() {
		_ = dev.Close()
	}()

	fmt.Printf("Using %s (%s over %s)\n", info.Name, info.Path, info.Transport)

	client := ctap.NewClient(dev, info.Name, options.WithLogger(logger))

	body, err := client.GetInfo(context.Background())
	if err != nil {
		panic(err)
	}

	var resp getInfoResponse
	if err := cbor.Unmarshal(body, &resp); err != nil {
		panic(err)
	}

	fmt.Printf("Versions: %v\n", resp.Versions)
	if len(resp.AAGUID) == 16 {
		fmt.Printf("AAGUID:   %s\n", uuid.UUID(resp.AAGUID))
	}
	for option, value := range resp.Options {
		fmt.Printf("Option %s: %t\n", option, value)
	}

	if supported, ok := resp.Options["clientPin"]; ok && supported {
		body, err := client.GetPINRetries(context.Background(), 0)
		if err != nil {
			panic(err)
		}

		var retries pinRetriesResponse
		if err := cbor.Unmarshal(body, &retries); err != nil {
			panic(err)
		}
		fmt.Printf("PIN retries: %d\n", retries.PinRetries)
	}
}
