package util

import (
	"crypto/sha256"
	"encoding/hex"
)

func SHA256Hex(b []byte) string {
	x := sha256.Sum256(b)
	return hex.EncodeToString(x[:])
}

// EmbeddingKey identifies one text embedded by one model and dimension.
func EmbeddingKey(model string, dim int, text string) string {
	h := sha256.New()
	h.Write([]byte(model))
	h.Write([]byte{0})
	h.Write([]byte{byte(dim >> 24), byte(dim >> 16), byte(dim >> 8), byte(dim)})
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}
