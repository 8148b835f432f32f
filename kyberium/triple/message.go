package triple

import (
	"encoding/binary"
)

// InitMessage opens a Triple Ratchet session. KEMSignature covers
// KEMCiphertext under the initiator's signature key.
type InitMessage struct {
	KEMCiphertext []byte `cbor:"1,keyasint" json:"kem_ciphertext"`
	KEMSignature  []byte `cbor:"2,keyasint" json:"kem_signature"`
	SignPublicKey []byte `cbor:"3,keyasint" json:"sign_public_key"`
}

// Message is one ratcheted, signed ciphertext.
type Message struct {
	Ciphertext    []byte `cbor:"1,keyasint" json:"ciphertext"`
	Nonce         []byte `cbor:"2,keyasint" json:"nonce"`
	Signature     []byte `cbor:"3,keyasint" json:"signature"`
	MsgNum        uint64 `cbor:"4,keyasint" json:"msg_num"`
	SignPublicKey []byte `cbor:"5,keyasint" json:"sign_public_key"`
}

// SigningBytes returns the bytes Signature covers:
// ciphertext || nonce || msgNum (8 bytes, big endian).
func (m *Message) SigningBytes() []byte {
	return signingBytes(m.Ciphertext, m.Nonce, m.MsgNum)
}

func signingBytes(ct, nonce []byte, msgNum uint64) []byte {
	out := make([]byte, 0, len(ct)+len(nonce)+8)
	out = append(out, ct...)
	out = append(out, nonce...)
	return binary.BigEndian.AppendUint64(out, msgNum)
}

// RekeyMessage moves the sender's direction to a new sending chain seeded
// from a fresh KEM secret. Messages numbered FromMsgNum and above use the
// new chain.
type RekeyMessage struct {
	Epoch         uint32 `cbor:"1,keyasint" json:"epoch"`
	FromMsgNum    uint64 `cbor:"2,keyasint" json:"from_msg_num"`
	KEMCiphertext []byte `cbor:"3,keyasint" json:"kem_ciphertext"`
	Signature     []byte `cbor:"4,keyasint" json:"signature"`
	SignPublicKey []byte `cbor:"5,keyasint" json:"sign_public_key"`
}

var labelRekey = []byte("kyberium triple rekey")

// SigningBytes returns the bytes Signature covers.
func (m *RekeyMessage) SigningBytes() []byte {
	return rekeySigningBytes(m.Epoch, m.FromMsgNum, m.KEMCiphertext)
}

func rekeySigningBytes(epoch uint32, from uint64, ct []byte) []byte {
	out := make([]byte, 0, len(labelRekey)+12+len(ct))
	out = append(out, labelRekey...)
	out = binary.BigEndian.AppendUint32(out, epoch)
	out = binary.BigEndian.AppendUint64(out, from)
	return append(out, ct...)
}
