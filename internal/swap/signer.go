package swap

import (
	"bytes"
	"crypto/ed25519"
	"encoding/base64"
	"fmt"

	"github.com/mr-tron/base58"

	"solana-wallet-service/internal/keys"
)

const signatureLen = 64
const pubkeyLen = 32

// SignTransaction signs an aggregator-built transaction locally and
// returns the signed wire bytes (base64) plus the transaction
// signature (base58 of the fee payer's signature). The wallet must be
// one of the transaction's required signers.
//
// Wire layout: compact-u16 signature count, 64-byte signatures, then
// the message. The message starts with an optional version byte (high
// bit set), a 3-byte header, and the compact-u16 prefixed static
// account keys. The first header byte is the required-signer count;
// required signers are the leading account keys, in signature order.
func SignTransaction(txBase64 string, kp *keys.Keypair) (string, string, error) {
	raw, err := base64.StdEncoding.DecodeString(txBase64)
	if err != nil {
		return "", "", fmt.Errorf("decode transaction: %w", err)
	}

	numSigs, sigArrayOffset, err := decodeCompactU16(raw)
	if err != nil {
		return "", "", fmt.Errorf("signature count: %w", err)
	}
	messageOffset := sigArrayOffset + numSigs*signatureLen
	if messageOffset > len(raw) {
		return "", "", fmt.Errorf("transaction truncated: %d signatures do not fit", numSigs)
	}
	message := raw[messageOffset:]

	numRequired, signerKeys, err := parseMessageSigners(message)
	if err != nil {
		return "", "", err
	}
	if numSigs != numRequired {
		return "", "", fmt.Errorf("signature slots (%d) disagree with required signers (%d)", numSigs, numRequired)
	}

	pub, err := base58.Decode(kp.PublicKey)
	if err != nil {
		return "", "", fmt.Errorf("decode wallet pubkey: %w", err)
	}

	slot := -1
	for i, key := range signerKeys {
		if bytes.Equal(key, pub) {
			slot = i
			break
		}
	}
	if slot < 0 {
		return "", "", fmt.Errorf("wallet %s is not a required signer", kp.PublicKey)
	}

	signature := ed25519.Sign(kp.PrivateKey, message)
	copy(raw[sigArrayOffset+slot*signatureLen:], signature)

	return base64.StdEncoding.EncodeToString(raw), base58.Encode(raw[sigArrayOffset : sigArrayOffset+signatureLen]), nil
}

// parseMessageSigners returns the required-signer count and their
// public keys from a legacy or v0 message.
func parseMessageSigners(message []byte) (int, [][]byte, error) {
	if len(message) == 0 {
		return 0, nil, fmt.Errorf("empty message")
	}

	offset := 0
	if message[0]&0x80 != 0 {
		version := message[0] & 0x7f
		if version != 0 {
			return 0, nil, fmt.Errorf("unsupported message version %d", version)
		}
		offset = 1
	}

	if len(message) < offset+3 {
		return 0, nil, fmt.Errorf("message truncated: missing header")
	}
	numRequired := int(message[offset])
	offset += 3

	numKeys, n, err := decodeCompactU16(message[offset:])
	if err != nil {
		return 0, nil, fmt.Errorf("account key count: %w", err)
	}
	offset += n

	if numRequired > numKeys {
		return 0, nil, fmt.Errorf("required signers (%d) exceed account keys (%d)", numRequired, numKeys)
	}
	if len(message) < offset+numKeys*pubkeyLen {
		return 0, nil, fmt.Errorf("message truncated: %d account keys do not fit", numKeys)
	}

	signers := make([][]byte, numRequired)
	for i := 0; i < numRequired; i++ {
		signers[i] = message[offset+i*pubkeyLen : offset+(i+1)*pubkeyLen]
	}
	return numRequired, signers, nil
}

// decodeCompactU16 reads a compact-u16 length prefix, returning the
// value and the number of bytes consumed.
func decodeCompactU16(data []byte) (int, int, error) {
	value := 0
	for i := 0; i < 3; i++ {
		if i >= len(data) {
			return 0, 0, fmt.Errorf("truncated compact-u16")
		}
		b := int(data[i])
		value |= (b & 0x7f) << (7 * i)
		if b&0x80 == 0 {
			if value > 0xffff {
				return 0, 0, fmt.Errorf("compact-u16 overflow")
			}
			return value, i + 1, nil
		}
	}
	return 0, 0, fmt.Errorf("compact-u16 too long")
}

// encodeCompactU16 is the inverse of decodeCompactU16.
func encodeCompactU16(value int) []byte {
	var out []byte
	for {
		b := byte(value & 0x7f)
		value >>= 7
		if value == 0 {
			out = append(out, b)
			return out
		}
		out = append(out, b|0x80)
	}
}
