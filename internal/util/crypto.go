package util

import (
	"crypto/subtle"

	"golang.org/x/crypto/bcrypt"
)

const BcryptCost = 12

// dummyHash is compared against when the account does not exist so that an
// unknown email costs the same as a wrong password.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("garden-relay-dummy"), BcryptCost)

func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), BcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func CheckPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

// BurnPasswordCheck performs a bcrypt comparison whose result is discarded.
func BurnPasswordCheck(password string) {
	_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
}

func ConstantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
