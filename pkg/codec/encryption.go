package codec

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"

	"github.com/Tnze/go-mc/net/CFB8"
)

// SharedSecretSize is the length of the AES key agreed during login.
const SharedSecretSize = 16

// newStreams builds the inbound and outbound CFB8 streams for secret.
// The protocol uses the secret as both key and IV.
func newStreams(secret []byte) (decrypt, encrypt cipher.Stream, err error) {
	if len(secret) != SharedSecretSize {
		return nil, nil, fmt.Errorf("codec: shared secret must be %d bytes, got %d", SharedSecretSize, len(secret))
	}
	block, err := aes.NewCipher(secret)
	if err != nil {
		return nil, nil, fmt.Errorf("codec: %w", err)
	}
	return CFB8.NewCFB8Decrypt(block, secret), CFB8.NewCFB8Encrypt(block, secret), nil
}
