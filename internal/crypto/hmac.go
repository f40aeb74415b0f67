package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

var ErrSignatureMismatch = errors.New("hmac signature mismatch")

// SignQRPayload signs the QR payload string handed to the companion app
// so it can't be replayed against a different session (spec.md section
// 4.6, QrDisplay phase).
func SignQRPayload(key []byte, payload string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func VerifyQRPayload(key []byte, payload, signature string) error {
	expected := SignQRPayload(key, payload)
	sig, err := hex.DecodeString(signature)
	if err != nil {
		return ErrSignatureMismatch
	}
	exp, err := hex.DecodeString(expected)
	if err != nil {
		return ErrSignatureMismatch
	}
	if !hmac.Equal(sig, exp) {
		return ErrSignatureMismatch
	}
	return nil
}
