package zkcrypto

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptTextRoundTrip(t *testing.T) {
	plain := "0123456789abcdef0123456789abcdef"
	enc, err := EncryptTextWithKey(plain, "some-secret")
	require.NoError(t, err)

	dec, err := DecryptTextWithKey(enc, "some-secret")
	require.NoError(t, err)
	assert.Equal(t, plain, dec)
}

func TestDecryptTextWrongSecretFails(t *testing.T) {
	enc, err := EncryptTextWithKey("hello world", "secret-a")
	require.NoError(t, err)

	_, err = DecryptTextWithKey(enc, "secret-b")
	assert.Error(t, err)
}

func TestDecryptTextRejectsMissingPrefix(t *testing.T) {
	_, err := DecryptTextWithKey(hex.EncodeToString([]byte("NotSalted_______________________")), "x")
	assert.Error(t, err)
}

func TestAppSecretRoundTrip(t *testing.T) {
	enc, err := EncryptText("plaintext-salt-value")
	require.NoError(t, err)
	dec, err := DecryptText(enc)
	require.NoError(t, err)
	assert.Equal(t, "plaintext-salt-value", dec)
}

func TestPassToHashDeterministic(t *testing.T) {
	saltHex := hex.EncodeToString([]byte("01234567"))
	h1, err := PassToHash("hunter2", saltHex)
	require.NoError(t, err)
	h2, err := PassToHash("hunter2", saltHex)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64) // 32 bytes hex-encoded

	h3, err := PassToHash("different", saltHex)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)
}

func TestEncryptPasswordHashFullHandshake(t *testing.T) {
	encryptedSalt, err := EncryptText("deadbeefcafebabe")
	require.NoError(t, err)

	result, err := EncryptPasswordHash("correct horse battery staple", encryptedSalt)
	require.NoError(t, err)

	decryptedHash, err := DecryptText(result)
	require.NoError(t, err)
	expected, err := PassToHash("correct horse battery staple", "deadbeefcafebabe")
	require.NoError(t, err)
	assert.Equal(t, expected, decryptedHash)
}

// TestMnemonicToSeedKnownVector checks against the well-known BIP-39 test
// vector for the all-"abandon" mnemonic with an empty passphrase.
func TestMnemonicToSeedKnownVector(t *testing.T) {
	mnemonic := "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"
	seed := MnemonicToSeed(mnemonic)
	want, _ := hex.DecodeString("5eb00bbddcf069084889a8ab9155568165f5c453ccb85e70811aaed6f6da5fc19a5ac40b389cd370d086206dec8aa6c43daea6690f20ad3d8d48b2d2ce9e38e")
	assert.Equal(t, want, seed)
}

func TestFileKeyScheduleDeterministic(t *testing.T) {
	mnemonic := "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"
	bucketID := hex.EncodeToString([]byte("bucket-0001"))
	index := hex.EncodeToString([]byte("file-index-0001"))

	k1, iv1, err := GenerateFileKey(mnemonic, bucketID, index)
	require.NoError(t, err)
	k2, iv2, err := GenerateFileKey(mnemonic, bucketID, index)
	require.NoError(t, err)
	assert.Equal(t, k1, k2)
	assert.Equal(t, iv1, iv2)

	otherIndex := hex.EncodeToString([]byte("file-index-0002"))
	k3, _, err := GenerateFileKey(mnemonic, bucketID, otherIndex)
	require.NoError(t, err)
	assert.NotEqual(t, k1, k3)
}

func TestFileContentCTRRoundTrip(t *testing.T) {
	mnemonic := "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"
	bucketID := hex.EncodeToString([]byte("bucket-xyz"))
	index := hex.EncodeToString([]byte("0000000000000001"))
	key, iv, err := GenerateFileKey(mnemonic, bucketID, index)
	require.NoError(t, err)

	plain := []byte("the quick brown fox jumps over the lazy dog, repeated for length")
	cipher, err := EncryptFileContent(plain, key, iv)
	require.NoError(t, err)
	assert.NotEqual(t, plain, cipher)

	back, err := DecryptFileContent(cipher, key, iv)
	require.NoError(t, err)
	assert.Equal(t, plain, back)
}

func TestIntegrityHashDeterministicAndSensitive(t *testing.T) {
	a := IntegrityHash([]byte("content-a"))
	b := IntegrityHash([]byte("content-a"))
	c := IntegrityHash([]byte("content-b"))
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 20) // RIPEMD-160 output size
}

func TestValidateMnemonic(t *testing.T) {
	valid12 := "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"
	require.NoError(t, ValidateMnemonic(valid12))

	valid24 := "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon art"
	require.NoError(t, ValidateMnemonic(valid24))

	// Wrong word count.
	assert.Error(t, ValidateMnemonic("abandon abandon abandon"))
	// Right count, words outside the BIP-39 wordlist.
	assert.Error(t, ValidateMnemonic("zebra xylophone quantum warp hyper mega ultra super duper turbo nitro boost"))
	// Right count, valid words, broken checksum.
	assert.Error(t, ValidateMnemonic("abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon"))
}
