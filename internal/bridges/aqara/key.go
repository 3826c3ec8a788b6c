package aqara

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/hex"
	"fmt"
)

// keyIV is the fixed initialisation vector defined by the gateway protocol.
var keyIV = [aes.BlockSize]byte{
	0x17, 0x99, 0x6d, 0x09, 0x3d, 0x28, 0xdd, 0xb3,
	0xba, 0x69, 0x5a, 0x2e, 0x6f, 0x58, 0x56, 0x2e,
}

// DeriveKey computes the write authorisation key for a gateway.
//
// The session token is encrypted with AES-128-CBC using the gateway password
// as the key and the protocol IV. Only the first ciphertext block is used; it
// is returned as lowercase hex.
//
// Returns ErrMissingCredentials when either input is empty and
// ErrInvalidCredentials when the password is not 16 bytes or the token is
// shorter than one block.
func DeriveKey(password, token string) (string, error) {
	if password == "" || token == "" {
		return "", ErrMissingCredentials
	}
	if len(password) != aes.BlockSize {
		return "", fmt.Errorf("%w: password must be %d bytes, got %d", ErrInvalidCredentials, aes.BlockSize, len(password))
	}
	if len(token) < aes.BlockSize {
		return "", fmt.Errorf("%w: token shorter than %d bytes", ErrInvalidCredentials, aes.BlockSize)
	}

	block, err := aes.NewCipher([]byte(password))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidCredentials, err)
	}

	out := make([]byte, aes.BlockSize)
	cipher.NewCBCEncrypter(block, keyIV[:]).CryptBlocks(out, []byte(token)[:aes.BlockSize])
	return hex.EncodeToString(out), nil
}
