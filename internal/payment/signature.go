package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Статусы в callback-е провайдера.
const (
	CallbackConfirmed = "CONFIRMED"
	CallbackFailed    = "FAILED"
	CallbackAbandoned = "ABANDONED"
)

// Verifier подписывает и проверяет callback-и провайдера HMAC-SHA256 над "orderId:status:reference".
type Verifier struct {
	secret []byte
}

// NewVerifier создаёт проверку подписи с общим секретом.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Sign возвращает подпись callback-а в hex.
func (v *Verifier) Sign(orderID, status, reference string) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(orderID + ":" + status + ":" + reference))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify сравнивает подпись за постоянное время.
func (v *Verifier) Verify(orderID, status, reference, signature string) bool {
	expected := v.Sign(orderID, status, reference)
	return hmac.Equal([]byte(expected), []byte(signature))
}
