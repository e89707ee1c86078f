// Package zkcrypto implements the zero-knowledge key schedule and file
// cipher used by Internxt-class providers: the client derives every key
// locally and the server never sees plaintext file content or the user's
// mnemonic.
package zkcrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/tyler-smith/go-bip39"
	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/crypto/ripemd160"
)

// AppCryptoSecret is the fixed application-level secret every Internxt
// client shares; it protects the transport framing around the user's own
// salt and password hash, not the file content itself.
const AppCryptoSecret = "6KYQBP847D4ATSFA"

var saltedPrefix = []byte("Salted__")

// opensslKeyIV derives a 32-byte AES key and 16-byte IV from secret and
// salt using three rounds of MD5, OpenSSL's EVP_BytesToKey scheme: round 1
// hashes secret||salt; each later round hashes the previous digest
// concatenated with secret||salt. Rounds 1 and 2 form the key, round 3 is
// the IV.
func opensslKeyIV(secret, salt []byte) ([32]byte, [16]byte) {
	input := append(append([]byte{}, secret...), salt...)
	digests := make([][]byte, 3)
	for i := 0; i < 3; i++ {
		h := md5.New()
		if i > 0 {
			h.Write(digests[i-1])
		}
		h.Write(input)
		sum := h.Sum(nil)
		digests[i] = sum
	}
	var key [32]byte
	copy(key[:16], digests[0])
	copy(key[16:], digests[1])
	var iv [16]byte
	copy(iv[:], digests[2])
	return key, iv
}

// pkcs7Unpad strips PKCS#7 padding, validating it.
func pkcs7Unpad(data []byte) ([]byte, error) {
	n := len(data)
	if n == 0 {
		return nil, fmt.Errorf("empty plaintext")
	}
	pad := int(data[n-1])
	if pad == 0 || pad > aes.BlockSize || pad > n {
		return nil, fmt.Errorf("invalid PKCS7 padding")
	}
	for _, b := range data[n-pad:] {
		if int(b) != pad {
			return nil, fmt.Errorf("invalid PKCS7 padding")
		}
	}
	return data[:n-pad], nil
}

func pkcs7Pad(data []byte) []byte {
	pad := aes.BlockSize - len(data)%aes.BlockSize
	padded := make([]byte, len(data)+pad)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(pad)
	}
	return padded
}

// DecryptTextWithKey decrypts an OpenSSL "Salted__"-framed, hex-encoded
// AES-256-CBC ciphertext under the given secret.
func DecryptTextWithKey(encryptedHex, secret string) (string, error) {
	ciphertext, err := hex.DecodeString(encryptedHex)
	if err != nil {
		return "", fmt.Errorf("decode hex: %w", err)
	}
	if len(ciphertext) < 16 {
		return "", fmt.Errorf("ciphertext too short")
	}
	if string(ciphertext[:8]) != string(saltedPrefix) {
		return "", fmt.Errorf("missing OpenSSL Salted__ prefix")
	}
	salt := ciphertext[8:16]
	body := ciphertext[16:]
	if len(body)%aes.BlockSize != 0 {
		return "", fmt.Errorf("ciphertext not aligned to block size")
	}

	key, iv := opensslKeyIV([]byte(secret), salt)
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return "", fmt.Errorf("new AES cipher: %w", err)
	}
	buf := make([]byte, len(body))
	cipher.NewCBCDecrypter(block, iv[:]).CryptBlocks(buf, body)
	plain, err := pkcs7Unpad(buf)
	if err != nil {
		return "", fmt.Errorf("AES-CBC decryption failed: %w", err)
	}
	return string(plain), nil
}

// EncryptTextWithKey encrypts plaintext with AES-256-CBC under secret and a
// fresh random salt, framed the same "Salted__" way, hex-encoded.
func EncryptTextWithKey(plaintext, secret string) (string, error) {
	salt := make([]byte, 8)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	key, iv := opensslKeyIV([]byte(secret), salt)
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return "", fmt.Errorf("new AES cipher: %w", err)
	}
	padded := pkcs7Pad([]byte(plaintext))
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv[:]).CryptBlocks(out, padded)

	result := make([]byte, 0, 8+8+len(out))
	result = append(result, saltedPrefix...)
	result = append(result, salt...)
	result = append(result, out...)
	return hex.EncodeToString(result), nil
}

// DecryptText decrypts under the shared AppCryptoSecret.
func DecryptText(encryptedHex string) (string, error) {
	return DecryptTextWithKey(encryptedHex, AppCryptoSecret)
}

// EncryptText encrypts under the shared AppCryptoSecret.
func EncryptText(plaintext string) (string, error) {
	return EncryptTextWithKey(plaintext, AppCryptoSecret)
}

// PassToHash computes PBKDF2-HMAC-SHA1(password, saltHex, 10000, 32) and
// returns it hex-encoded.
func PassToHash(password, saltHex string) (string, error) {
	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return "", fmt.Errorf("decode salt hex: %w", err)
	}
	hash := pbkdf2.Key([]byte(password), salt, 10000, 32, sha1.New)
	return hex.EncodeToString(hash), nil
}

// EncryptPasswordHash runs the full login-handshake password step:
// decrypt the server-supplied encrypted salt under AppCryptoSecret, hash
// the user's plaintext password against that salt, and re-encrypt the hash
// under AppCryptoSecret for transmission back to the server. This uses the
// app secret throughout - the distinct step that decrypts the user's
// mnemonic (DecryptTextWithKey with the user's own password) happens
// separately, after login succeeds.
func EncryptPasswordHash(password, encryptedSalt string) (string, error) {
	salt, err := DecryptText(encryptedSalt)
	if err != nil {
		return "", fmt.Errorf("decrypt salt: %w", err)
	}
	hash, err := PassToHash(password, salt)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return EncryptText(hash)
}

// ValidateMnemonic checks that a decrypted mnemonic is a real BIP-39
// phrase of 12 or 24 words. A mnemonic that fails this check means the
// password-based decryption produced garbage, i.e. the password was wrong.
func ValidateMnemonic(mnemonic string) error {
	words := len(strings.Fields(mnemonic))
	if words != 12 && words != 24 {
		return fmt.Errorf("invalid mnemonic format (expected 12 or 24 words, got %d)", words)
	}
	if !bip39.IsMnemonicValid(mnemonic) {
		return fmt.Errorf("mnemonic failed BIP-39 wordlist/checksum validation")
	}
	return nil
}

// MnemonicToSeed derives the BIP-39 seed: PBKDF2-HMAC-SHA512(mnemonic,
// "mnemonic", 2048, 64), with an empty passphrase.
func MnemonicToSeed(mnemonic string) []byte {
	return bip39.NewSeed(mnemonic, "")
}

func fileDeterministicKey(key, data []byte) []byte {
	h := sha512.New()
	h.Write(key)
	h.Write(data)
	return h.Sum(nil)
}

// GenerateFileBucketKey derives the per-bucket key: the first 32 bytes of
// SHA-512(seed || bucket_id_bytes), where bucket_id is hex-decoded.
func GenerateFileBucketKey(mnemonic, bucketIDHex string) ([]byte, error) {
	seed := MnemonicToSeed(mnemonic)
	bucketBytes, err := hex.DecodeString(bucketIDHex)
	if err != nil {
		return nil, fmt.Errorf("decode bucket id: %w", err)
	}
	return fileDeterministicKey(seed, bucketBytes), nil
}

// GenerateFileKey derives the per-file AES-256-CTR key and IV: key is the
// first 32 bytes of SHA-512(bucket_key[:32] || file_index_bytes); IV is the
// first 16 bytes of file_index_bytes.
func GenerateFileKey(mnemonic, bucketIDHex, indexHex string) (key [32]byte, iv [16]byte, err error) {
	bucketKey, err := GenerateFileBucketKey(mnemonic, bucketIDHex)
	if err != nil {
		return key, iv, err
	}
	indexBytes, err := hex.DecodeString(indexHex)
	if err != nil {
		return key, iv, fmt.Errorf("decode file index: %w", err)
	}
	detKey := fileDeterministicKey(bucketKey[:32], indexBytes)
	copy(key[:], detKey[:32])

	ivLen := len(indexBytes)
	if ivLen > 16 {
		ivLen = 16
	}
	copy(iv[:ivLen], indexBytes[:ivLen])
	return key, iv, nil
}

// EncryptFileContent and DecryptFileContent are the same operation: AES-256
// in CTR mode is self-inverse over the keystream.
func cryptFileContent(data []byte, key [32]byte, iv [16]byte) ([]byte, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("new AES cipher: %w", err)
	}
	out := make([]byte, len(data))
	cipher.NewCTR(block, iv[:]).XORKeyStream(out, data)
	return out, nil
}

// DecryptFileContent decrypts CTR-mode ciphertext under key/iv.
func DecryptFileContent(data []byte, key [32]byte, iv [16]byte) ([]byte, error) {
	return cryptFileContent(data, key, iv)
}

// EncryptFileContent encrypts plaintext under key/iv. CTR mode makes this
// identical to DecryptFileContent; kept as a distinct name for call-site
// clarity.
func EncryptFileContent(data []byte, key [32]byte, iv [16]byte) ([]byte, error) {
	return cryptFileContent(data, key, iv)
}

// IntegrityHash computes RIPEMD-160(SHA-256(ciphertext)), the hash the
// upload-finish step sends to prove content integrity without revealing
// plaintext.
func IntegrityHash(ciphertext []byte) []byte {
	sum := sha256.Sum256(ciphertext)
	h := ripemd160.New()
	h.Write(sum[:])
	return h.Sum(nil)
}
