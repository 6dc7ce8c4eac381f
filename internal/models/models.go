package models

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/golang-jwt/jwt/v5"
)

// IdentityKind is the privilege level proven by the Authorization header.
type IdentityKind int

const (
	IdentityAnonymous IdentityKind = iota
	IdentityUser
	IdentityAdmin
)

func (k IdentityKind) String() string {
	switch k {
	case IdentityAdmin:
		return "admin"
	case IdentityUser:
		return "user"
	default:
		return "anonymous"
	}
}

// Identity is resolved per request and never stored. Address is only
// meaningful for IdentityUser.
type Identity struct {
	Kind    IdentityKind
	Address common.Address
}

func Anonymous() Identity {
	return Identity{Kind: IdentityAnonymous}
}

func Admin() Identity {
	return Identity{Kind: IdentityAdmin}
}

func User(address common.Address) Identity {
	return Identity{Kind: IdentityUser, Address: address}
}

// SignerKey is one entry of the JWT key ring.
type SignerKey struct {
	KID    string
	Secret []byte
}

// SessionClaims is the JWT payload of a session token: sub holds the
// lowercase hex address, iat/exp bound the session lifetime.
type SessionClaims struct {
	jwt.RegisteredClaims
}
