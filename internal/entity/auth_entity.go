package entity

// TokenClaims is the identity the authentication collaborator vouches for.
type TokenClaims struct {
	UserId   string `json:"userId"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

func (c TokenClaims) IsAdmin() bool {
	return c.Role == RoleAdmin
}
