package swap

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-wallet-service/internal/keys"
)

// buildUnsignedTx assembles a wire transaction whose required signers
// are the given pubkeys, with zeroed signature slots. versioned
// selects a v0 message over a legacy one.
func buildUnsignedTx(t *testing.T, versioned bool, signers ...[]byte) string {
	t.Helper()

	// One extra non-signer key plays the program account.
	program := make([]byte, 32)
	_, err := rand.Read(program)
	require.NoError(t, err)

	var message []byte
	if versioned {
		message = append(message, 0x80) // v0
	}
	message = append(message, byte(len(signers)), 0, 1) // header
	message = append(message, encodeCompactU16(len(signers)+1)...)
	for _, s := range signers {
		message = append(message, s...)
	}
	message = append(message, program...)
	// Recent blockhash placeholder and empty instruction list.
	message = append(message, make([]byte, 32)...)
	message = append(message, encodeCompactU16(0)...)

	var tx []byte
	tx = append(tx, encodeCompactU16(len(signers))...)
	tx = append(tx, make([]byte, len(signers)*signatureLen)...)
	tx = append(tx, message...)

	return base64.StdEncoding.EncodeToString(tx)
}

func TestSignTransaction(t *testing.T) {
	kp, err := keys.NewKeypair()
	require.NoError(t, err)
	pub, err := base58.Decode(kp.PublicKey)
	require.NoError(t, err)

	for _, versioned := range []bool{true, false} {
		unsigned := buildUnsignedTx(t, versioned, pub)

		signed, signature, err := SignTransaction(unsigned, kp)
		require.NoError(t, err)

		raw, err := base64.StdEncoding.DecodeString(signed)
		require.NoError(t, err)

		numSigs, offset, err := decodeCompactU16(raw)
		require.NoError(t, err)
		require.Equal(t, 1, numSigs)

		sig := raw[offset : offset+signatureLen]
		message := raw[offset+signatureLen:]
		assert.True(t, ed25519.Verify(ed25519.PublicKey(pub), message, sig),
			"signature must verify against the message bytes")
		assert.Equal(t, base58.Encode(sig), signature,
			"transaction signature is the fee payer's signature")
	}
}

func TestSignTransaction_SecondSignerSlot(t *testing.T) {
	other, err := keys.NewKeypair()
	require.NoError(t, err)
	kp, err := keys.NewKeypair()
	require.NoError(t, err)

	otherPub, _ := base58.Decode(other.PublicKey)
	pub, _ := base58.Decode(kp.PublicKey)

	unsigned := buildUnsignedTx(t, true, otherPub, pub)

	signed, _, err := SignTransaction(unsigned, kp)
	require.NoError(t, err)

	raw, _ := base64.StdEncoding.DecodeString(signed)
	_, offset, _ := decodeCompactU16(raw)
	message := raw[offset+2*signatureLen:]

	first := raw[offset : offset+signatureLen]
	second := raw[offset+signatureLen : offset+2*signatureLen]
	assert.Equal(t, make([]byte, signatureLen), first, "other signer's slot stays empty")
	assert.True(t, ed25519.Verify(ed25519.PublicKey(pub), message, second))
}

func TestSignTransaction_NotASigner(t *testing.T) {
	signer, err := keys.NewKeypair()
	require.NoError(t, err)
	stranger, err := keys.NewKeypair()
	require.NoError(t, err)

	signerPub, _ := base58.Decode(signer.PublicKey)
	unsigned := buildUnsignedTx(t, true, signerPub)

	_, _, err = SignTransaction(unsigned, stranger)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a required signer")
}

func TestSignTransaction_Malformed(t *testing.T) {
	kp, err := keys.NewKeypair()
	require.NoError(t, err)

	_, _, err = SignTransaction("not base64!!!", kp)
	assert.Error(t, err)

	_, _, err = SignTransaction(base64.StdEncoding.EncodeToString([]byte{5}), kp)
	assert.Error(t, err)
}

func TestCompactU16RoundTrip(t *testing.T) {
	for _, v := range []int{0, 1, 2, 127, 128, 300, 16383, 16384, 65535} {
		encoded := encodeCompactU16(v)
		decoded, n, err := decodeCompactU16(encoded)
		require.NoError(t, err, "value %d", v)
		assert.Equal(t, v, decoded)
		assert.Equal(t, len(encoded), n)
	}

	_, _, err := decodeCompactU16(nil)
	assert.Error(t, err)
}
