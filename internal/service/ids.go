package service

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const (
	orderIDPrefix = "FOUR"
	// sin 0/O ni 1/I para que se pueda dictar por teléfono; 32 símbolos
	idAlphabet   = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	idLength     = 8
	maxIDRetries = 5
)

func newOrderID() (string, error) {
	b := make([]byte, idLength)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generar id: %w", err)
	}
	for i := range b {
		b[i] = idAlphabet[int(b[i])%len(idAlphabet)]
	}
	return orderIDPrefix + string(b), nil
}

// newOTP devuelve un código de 4 dígitos entre 1000 y 9999.
func newOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(9000))
	if err != nil {
		return "", fmt.Errorf("generar otp: %w", err)
	}
	return fmt.Sprintf("%d", n.Int64()+1000), nil
}
