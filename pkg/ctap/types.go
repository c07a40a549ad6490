package ctap

// WebAuthn entity types referenced by the request parameter maps. They
// are encoded exactly as the authenticator expects them; response
// bodies stay raw CBOR and are never parsed here.

type PublicKeyCredentialRpEntity struct {
	ID   string `cbor:"id"`
	Name string `cbor:"name,omitempty"`
}

type PublicKeyCredentialUserEntity struct {
	ID          []byte `cbor:"id"`
	Name        string `cbor:"name,omitempty"`
	DisplayName string `cbor:"displayName,omitempty"`
}

type PublicKeyCredentialParameters struct {
	Type string `cbor:"type"`
	Alg  int64  `cbor:"alg"`
}

type PublicKeyCredentialDescriptor struct {
	Type       string   `cbor:"type"`
	ID         []byte   `cbor:"id"`
	Transports []string `cbor:"transports,omitempty"`
}

// AuthenticatorMakeCredentialRequest is the parameter map of
// authenticatorMakeCredential (0x01).
type AuthenticatorMakeCredentialRequest struct {
	ClientDataHash    []byte                          `cbor:"1,keyasint"`
	RP                PublicKeyCredentialRpEntity     `cbor:"2,keyasint"`
	User              PublicKeyCredentialUserEntity   `cbor:"3,keyasint"`
	PubKeyCredParams  []PublicKeyCredentialParameters `cbor:"4,keyasint"`
	ExcludeList       []PublicKeyCredentialDescriptor `cbor:"5,keyasint,omitempty"`
	Extensions        map[string]any                  `cbor:"6,keyasint,omitempty"`
	Options           map[string]bool                 `cbor:"7,keyasint,omitempty"`
	PinUvAuthParam    []byte                          `cbor:"8,keyasint,omitempty"`
	PinUvAuthProtocol uint                            `cbor:"9,keyasint,omitempty"`
}

// AuthenticatorGetAssertionRequest is the parameter map of
// authenticatorGetAssertion (0x02).
type AuthenticatorGetAssertionRequest struct {
	RPID              string                          `cbor:"1,keyasint"`
	ClientDataHash    []byte                          `cbor:"2,keyasint"`
	AllowList         []PublicKeyCredentialDescriptor `cbor:"3,keyasint,omitempty"`
	Extensions        map[string]any                  `cbor:"4,keyasint,omitempty"`
	Options           map[string]bool                 `cbor:"5,keyasint,omitempty"`
	PinUvAuthParam    []byte                          `cbor:"6,keyasint,omitempty"`
	PinUvAuthProtocol uint                            `cbor:"7,keyasint,omitempty"`
}

// AuthenticatorClientPINRequest is the parameter map of
// authenticatorClientPIN (0x06). KeyAgreement takes any CBOR-encodable
// COSE_Key, e.g. the platform key produced by pinauth.
type AuthenticatorClientPINRequest struct {
	PinUvAuthProtocol uint                `cbor:"1,keyasint"`
	SubCommand        ClientPINSubCommand `cbor:"2,keyasint"`
	KeyAgreement      any                 `cbor:"3,keyasint,omitempty"`
	PinHashEnc        []byte              `cbor:"6,keyasint,omitempty"`
}
