package matching

import (
	"crypto/rand"
	"math/big"
)

const (
	referralCodeLength = 8
	referralCodeChars  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// NewReferralCode returns a random code of uppercase letters and digits.
func NewReferralCode() string {
	code := make([]byte, referralCodeLength)
	for i := range code {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(referralCodeChars))))
		if err != nil {
			panic(err)
		}
		code[i] = referralCodeChars[n.Int64()]
	}
	return string(code)
}
