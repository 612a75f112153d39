package usecase

import (
	"crypto/rand"
	"io"

	"premium-access/internal/domain/model"
)

// codeGenerator produces redemption strings. Tests swap it for a fixed sequence.
type codeGenerator func() (string, error)

// generatePremiumCode returns model.CodeLength random characters of
// model.CodeAlphabet. Bytes at or above the largest multiple of the alphabet
// size are discarded so every character is equally likely.
func generatePremiumCode() (string, error) {
	const alphabet = model.CodeAlphabet
	limit := byte(256 - 256%len(alphabet))

	out := make([]byte, 0, model.CodeLength)
	buf := make([]byte, model.CodeLength*2)
	for len(out) < model.CodeLength {
		if _, err := io.ReadFull(rand.Reader, buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if b >= limit {
				continue
			}
			out = append(out, alphabet[int(b)%len(alphabet)])
			if len(out) == model.CodeLength {
				break
			}
		}
	}
	return string(out), nil
}
