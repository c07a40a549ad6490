package ctap

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/fxamacker/cbor/v2"

	"github.com/go-ctap/ctapdev/pkg/options"
	"github.com/go-ctap/ctapdev/pkg/transport"
)

// Client issues authenticator API commands over one open transport
// handle. Every operation returns the raw CBOR response body with the
// status byte stripped; interpreting the body is the caller's job.
type Client struct {
	dev     transport.Sender
	name    string
	logger  *slog.Logger
	encMode cbor.EncMode
}

// NewClient binds a client to an open handle. name attributes CTAP
// errors to the device that produced them.
func NewClient(dev transport.Sender, name string, opts ...options.Option) *Client {
	oo := options.NewOptions(opts...)

	return &Client{
		dev:     dev,
		name:    name,
		logger:  oo.Logger,
		encMode: oo.EncMode,
	}
}

// roundTrip prepends the command byte to the CBOR-encoded parameters,
// sends the packet, and strips the status byte off the response.
func (c *Client) roundTrip(ctx context.Context, cmd Command, params any) ([]byte, error) {
	data := []byte{byte(cmd)}
	if params != nil {
		b, err := c.encMode.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("cannot marshal %s CBOR request: %w", cmd, err)
		}
		data = append(data, b...)
	}
	c.logger.Debug("CTAP request", "command", cmd, "hex", hex.EncodeToString(data))

	resp, err := c.dev.Send(ctx, data)
	if err != nil {
		return nil, err
	}
	if len(resp) < 1 {
		return nil, ErrEmptyResponse
	}
	c.logger.Debug("CTAP response", "command", cmd, "hex", hex.EncodeToString(resp))

	if code := StatusCode(resp[0]); code != CTAP2_OK {
		return nil, newCTAPError(cmd, code, c.name)
	}

	return resp[1:], nil
}

// GetInfo requests the authenticator's capability map.
func (c *Client) GetInfo(ctx context.Context) ([]byte, error) {
	return c.roundTrip(ctx, AuthenticatorGetInfo, nil)
}

// MakeCredential creates a credential and returns the raw attestation
// object.
func (c *Client) MakeCredential(ctx context.Context, req *AuthenticatorMakeCredentialRequest) ([]byte, error) {
	if req.PinUvAuthParam != nil && req.PinUvAuthProtocol == 0 {
		req.PinUvAuthProtocol = DefaultPinUvAuthProtocol
	}
	return c.roundTrip(ctx, AuthenticatorMakeCredential, req)
}

// GetAssertion requests an assertion for the Relying Party named in
// the request.
func (c *Client) GetAssertion(ctx context.Context, req *AuthenticatorGetAssertionRequest) ([]byte, error) {
	if req.PinUvAuthParam != nil && req.PinUvAuthProtocol == 0 {
		req.PinUvAuthProtocol = DefaultPinUvAuthProtocol
	}
	return c.roundTrip(ctx, AuthenticatorGetAssertion, req)
}

// GetNextAssertion fetches the next assertion after a GetAssertion
// that reported multiple credentials.
func (c *Client) GetNextAssertion(ctx context.Context) ([]byte, error) {
	return c.roundTrip(ctx, AuthenticatorGetNextAssertion, nil)
}

// GetPINRetries queries the remaining PIN attempts. The protocol
// number is formally unnecessary here, but some tokens insist on it.
func (c *Client) GetPINRetries(ctx context.Context, pinUvAuthProtocol uint) ([]byte, error) {
	if pinUvAuthProtocol == 0 {
		pinUvAuthProtocol = DefaultPinUvAuthProtocol
	}
	return c.roundTrip(ctx, AuthenticatorClientPIN, &AuthenticatorClientPINRequest{
		PinUvAuthProtocol: pinUvAuthProtocol,
		SubCommand:        ClientPINSubCommandGetPINRetries,
	})
}

// GetKeyAgreement fetches the authenticator's ECDH key. The response
// body holds the COSE_Key under map key 1.
func (c *Client) GetKeyAgreement(ctx context.Context, pinUvAuthProtocol uint) ([]byte, error) {
	if pinUvAuthProtocol == 0 {
		pinUvAuthProtocol = DefaultPinUvAuthProtocol
	}
	return c.roundTrip(ctx, AuthenticatorClientPIN, &AuthenticatorClientPINRequest{
		PinUvAuthProtocol: pinUvAuthProtocol,
		SubCommand:        ClientPINSubCommandGetKeyAgreement,
	})
}

// GetPINToken trades an encrypted PIN hash for a pinUvAuthToken.
// keyAgreement is the platform's COSE_Key from the pinauth
// encapsulation; pinHashEnc is the first 16 bytes of SHA-256(PIN)
// encrypted under the shared secret.
func (c *Client) GetPINToken(ctx context.Context, pinUvAuthProtocol uint, keyAgreement any, pinHashEnc []byte) ([]byte, error) {
	if pinUvAuthProtocol == 0 {
		pinUvAuthProtocol = DefaultPinUvAuthProtocol
	}
	return c.roundTrip(ctx, AuthenticatorClientPIN, &AuthenticatorClientPINRequest{
		PinUvAuthProtocol: pinUvAuthProtocol,
		SubCommand:        ClientPINSubCommandGetPINToken,
		KeyAgreement:      keyAgreement,
		PinHashEnc:        pinHashEnc,
	})
}

// Reset performs a factory reset, wiping every credential. Most tokens
// only honor it within a few seconds of power-up.
func (c *Client) Reset(ctx context.Context) error {
	_, err := c.roundTrip(ctx, AuthenticatorReset, nil)
	return err
}
