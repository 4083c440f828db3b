package services

import (
	"context"
	"slices"

	"go.pilab.hu/authz/domain"
)

// TokenEnhancer adds information to an access token before it is stored and
// encoded.
type TokenEnhancer interface {
	Enhance(ctx context.Context, token *domain.TokenRecord) error
}

// TokenEnhancerChain applies enhancers in order and stops at the first error.
type TokenEnhancerChain []TokenEnhancer

func (c TokenEnhancerChain) Enhance(ctx context.Context, token *domain.TokenRecord) error {
	for _, e := range c {
		if err := e.Enhance(ctx, token); err != nil {
			return err
		}
	}
	return nil
}

// UserAttributeEnhancer copies the principal's roles and permissions into the
// additional information of the token.
type UserAttributeEnhancer struct{}

func (UserAttributeEnhancer) Enhance(_ context.Context, token *domain.TokenRecord) error {
	p := token.Principal
	if p == nil {
		return nil
	}

	if token.Additional == nil {
		token.Additional = make(map[string]any)
	}
	if len(p.Roles) > 0 {
		token.Additional[domain.AttributeRoles] = slices.Clone(p.Roles)
	}
	if len(p.Permissions) > 0 {
		token.Additional[domain.AttributePermissions] = slices.Clone(p.Permissions)
	}

	return nil
}
