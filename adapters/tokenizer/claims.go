package tokenizer

import "github.com/golang-jwt/jwt/v5"

// SessionClaims are the claims of a node issued session token
type SessionClaims struct {
	jwt.RegisteredClaims
	Capabilities []string `json:"cap"`
}
