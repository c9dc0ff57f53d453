package models

import (
	"strings"

	"github.com/google/uuid"
)

// Identity is the address of an account on the chain. Externally owned
// accounts and programs (the vault, the drainer) share the same namespace.
type Identity string

// Genesis is the source account for minted funds.
const Genesis Identity = "0x0000000000000000000000000000000000000000"

// NewIdentity derives a fresh, random address.
func NewIdentity() Identity {
	id := uuid.New()
	return Identity("0x" + strings.ReplaceAll(id.String(), "-", ""))
}

func (i Identity) String() string {
	return string(i)
}
