// Package otp produces the numeric one-time codes used to confirm transfers.
package otp

import (
	"crypto/rand"
	"errors"
	"math/big"
)

// MaxLength keeps the code representable in an int64.
const MaxLength = 18

var ErrInvalidLength = errors.New("otp: length must be between 1 and 18")

// Generate returns a uniformly random code of exactly length decimal digits,
// leading zeros included.
func Generate(length int) (string, error) {
	if length < 1 || length > MaxLength {
		return "", ErrInvalidLength
	}

	buf := make([]byte, length)
	ten := big.NewInt(10)
	for i := range buf {
		d, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", err
		}
		buf[i] = byte('0' + d.Int64())
	}
	return string(buf), nil
}
