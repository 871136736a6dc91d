package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"hash"
	"strings"
)

// SignHMACSHA256 returns the hex HMAC-SHA256 of body under secret.
func SignHMACSHA256(body []byte, secret string) string {
	return signHMAC(sha256.New, body, secret)
}

// VerifyHMACSHA256 checks a hex HMAC-SHA256 signature in constant time.
func VerifyHMACSHA256(body []byte, signature, secret string) bool {
	return verifyHMAC(sha256.New, body, signature, secret)
}

// SignHMACSHA512 returns the hex HMAC-SHA512 of body under secret.
func SignHMACSHA512(body []byte, secret string) string {
	return signHMAC(sha512.New, body, secret)
}

// VerifyHMACSHA512 checks a hex HMAC-SHA512 signature in constant time.
func VerifyHMACSHA512(body []byte, signature, secret string) bool {
	return verifyHMAC(sha512.New, body, signature, secret)
}

func signHMAC(newHash func() hash.Hash, body []byte, secret string) string {
	mac := hmac.New(newHash, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func verifyHMAC(newHash func() hash.Hash, body []byte, signature, secret string) bool {
	signature = strings.TrimSpace(signature)
	if signature == "" || secret == "" {
		return false
	}
	provided, errDecode := hex.DecodeString(strings.ToLower(signature))
	if errDecode != nil {
		return false
	}

	mac := hmac.New(newHash, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), provided)
}
