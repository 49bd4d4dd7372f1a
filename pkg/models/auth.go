package models

import (
	"github.com/golang-jwt/jwt/v5"
)

// AdminClaims are carried by tokens allowed to trigger recomputation passes.
type AdminClaims struct {
	Subject string   `json:"sub_name"`
	Roles   []string `json:"roles"`
	jwt.RegisteredClaims
}

// HasRole reports whether the claims grant role.
func (c *AdminClaims) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}
