package credcache

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

type signer struct {
	secretKey []byte
}

func newSigner(secret string) signer {
	key := []byte(secret)
	if len(key) == 0 {
		key = []byte(defaultSecret)
	}
	return signer{secretKey: key}
}

func (s signer) sign(payload string) string {
	mac := hmac.New(sha256.New, s.secretKey)
	mac.Write([]byte(payload))
	return payload + "." + hex.EncodeToString(mac.Sum(nil))
}

// verify возвращает полезную нагрузку, если подпись совпадает.
func (s signer) verify(value string) (string, bool) {
	idx := strings.LastIndex(value, ".")
	if idx <= 0 || idx == len(value)-1 {
		return "", false
	}

	payload, signature := value[:idx], value[idx+1:]

	expected := s.sign(payload)
	if !hmac.Equal([]byte(signature), []byte(expected[idx+1:])) {
		return "", false
	}

	return payload, true
}
