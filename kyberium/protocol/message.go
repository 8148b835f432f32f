package protocol

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/TheusHen/kyberium/kyberium/kerr"
	"github.com/TheusHen/kyberium/kyberium/triple"
)

var (
	encMode = mustEncMode()
	decMode = mustDecMode()
)

func mustEncMode() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}

func mustDecMode() cbor.DecMode {
	dm, err := cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyEnforcedAPF,
		MaxNestedLevels:   8,
		MaxByteStringLen:  MaxFramePayload,
		ExtraReturnErrors: cbor.ExtraDecErrorUnknownField,
	}.DecMode()
	if err != nil {
		panic(err)
	}
	return dm
}

// Marshal encodes v as deterministic CBOR.
func Marshal(v any) ([]byte, error) {
	b, err := encMode.Marshal(v)
	if err != nil {
		return nil, kerr.Wrapf(kerr.ErrInvalidCiphertext, "protocol: encode: %v", err)
	}
	return b, nil
}

// Unmarshal decodes CBOR into v. Duplicate or unknown keys are rejected.
func Unmarshal(b []byte, v any) error {
	if err := decMode.Unmarshal(b, v); err != nil {
		return kerr.Wrapf(kerr.ErrInvalidCiphertext, "protocol: decode: %v", err)
	}
	return nil
}

// NewFrame encodes v into a frame of type t.
func NewFrame(t MessageType, v any) (Frame, error) {
	if !t.valid() {
		return Frame{}, ErrInvalidType
	}
	payload, err := Marshal(v)
	if err != nil {
		return Frame{}, err
	}
	if len(payload) > MaxFramePayload {
		return Frame{}, ErrFrameTooLarge
	}
	return Frame{Type: t, Payload: payload}, nil
}

func EncodeInit(m *triple.InitMessage) ([]byte, error) { return Marshal(m) }

func DecodeInit(b []byte) (*triple.InitMessage, error) {
	var m triple.InitMessage
	if err := Unmarshal(b, &m); err != nil {
		return nil, err
	}
	if len(m.KEMCiphertext) == 0 || len(m.KEMSignature) == 0 || len(m.SignPublicKey) == 0 {
		return nil, kerr.Wrapf(kerr.ErrInvalidCiphertext, "protocol: init message incomplete")
	}
	return &m, nil
}

func EncodeMessage(m *triple.Message) ([]byte, error) { return Marshal(m) }

func DecodeMessage(b []byte) (*triple.Message, error) {
	var m triple.Message
	if err := Unmarshal(b, &m); err != nil {
		return nil, err
	}
	if len(m.Nonce) == 0 || len(m.Signature) == 0 {
		return nil, kerr.Wrapf(kerr.ErrInvalidCiphertext, "protocol: ratchet message %d incomplete", m.MsgNum)
	}
	return &m, nil
}

func EncodeRekey(m *triple.RekeyMessage) ([]byte, error) { return Marshal(m) }

func DecodeRekey(b []byte) (*triple.RekeyMessage, error) {
	var m triple.RekeyMessage
	if err := Unmarshal(b, &m); err != nil {
		return nil, err
	}
	if len(m.KEMCiphertext) == 0 || len(m.Signature) == 0 {
		return nil, kerr.Wrapf(kerr.ErrInvalidCiphertext, "protocol: rekey message incomplete")
	}
	return &m, nil
}

// DecodeFrame decodes f into the message type its header names: one of
// *triple.InitMessage, *triple.Message, *triple.RekeyMessage or *Bundle.
// Close frames carry no message and decode to nil.
func DecodeFrame(f Frame) (any, error) {
	switch f.Type {
	case MessageTypeInit:
		return DecodeInit(f.Payload)
	case MessageTypeRatchet:
		return DecodeMessage(f.Payload)
	case MessageTypeRekey:
		return DecodeRekey(f.Payload)
	case MessageTypeBundle:
		return DecodeBundle(f.Payload)
	case MessageTypeClose:
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrInvalidType, f.Type)
	}
}
