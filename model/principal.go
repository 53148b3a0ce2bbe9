package model

import (
	"context"

	"github.com/golang-jwt/jwt/v5"
)

// Claim names recognised on access tokens.
const (
	ClaimTokenType = "token_type"
	ClaimUserID    = "sub"
	ClaimOrgID     = "org_id"

	tokenTypeService = "service"
)

// PrincipalKind discriminates the two caller variants.
type PrincipalKind int

const (
	// PrincipalUser is an end user acting for a participant.
	PrincipalUser PrincipalKind = iota
	// PrincipalService is a trusted service-to-service caller; wallet
	// ownership checks are skipped for it.
	PrincipalService
)

// Principal is the authenticated caller of an execution request. It is a
// tagged variant rather than a raw claims bag so the wallet-ownership skip
// rule is a single kind check.
type Principal struct {
	Kind   PrincipalKind
	UserID string
	OrgID  string
}

// IsService reports whether the principal is a service caller.
func (p *Principal) IsService() bool {
	return p != nil && p.Kind == PrincipalService
}

// PrincipalFromClaims builds a Principal from verified JWT claims. A
// token_type of "service" yields a service principal; anything else is a
// user principal identified by subject and organisation claims.
func PrincipalFromClaims(claims jwt.MapClaims) *Principal {
	if tt, _ := claims[ClaimTokenType].(string); tt == tokenTypeService {
		return &Principal{Kind: PrincipalService}
	}
	userID, _ := claims[ClaimUserID].(string)
	orgID, _ := claims[ClaimOrgID].(string)
	return &Principal{Kind: PrincipalUser, UserID: userID, OrgID: orgID}
}

type principalKey struct{}

// WithPrincipal attaches a Principal to the context.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom extracts the Principal from the context, or nil.
func PrincipalFrom(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalKey{}).(*Principal)
	return p
}
