// Package auth verifies bearer tokens against the identity provider's
// published key set and maps the verified identity onto a banking customer.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-jwt/jwt/v5"

	"github.com/convobank/orchestrator/pkg/config"
	"github.com/convobank/orchestrator/pkg/models"
)

var (
	// ErrUnauthenticated covers every token verification failure.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrKeySetUnavailable is the distinct unauthenticated reason for "the
	// cached key set lapsed and the identity provider is unreachable".
	ErrKeySetUnavailable = fmt.Errorf("%w: identity key set unavailable", ErrUnauthenticated)

	// ErrUnknownCustomer means the token verified but its email has no entry
	// in the customer directory.
	ErrUnknownCustomer = errors.New("unknown customer")
)

// WarmupFunc is invoked fire-and-forget after successful resolution so the
// cache can start populating before the router needs it. Implementations
// must not block.
type WarmupFunc func(principal models.Principal)

// Resolver turns bearer tokens into Principals.
type Resolver struct {
	keys      *KeySet
	directory *Directory
	issuer    string
	audience  string
	warmup    WarmupFunc
}

// NewResolver builds a resolver over the given key set and directory.
// warmup may be nil.
func NewResolver(cfg config.IdPConfig, keys *KeySet, directory *Directory, warmup WarmupFunc) *Resolver {
	return &Resolver{
		keys:      keys,
		directory: directory,
		issuer:    cfg.Issuer,
		audience:  cfg.Audience,
		warmup:    warmup,
	}
}

// Resolve verifies the token and returns the principal behind it.
// Verification failures map to ErrUnauthenticated (or ErrKeySetUnavailable);
// a verified identity missing from the customer directory maps to
// ErrUnknownCustomer.
func (r *Resolver) Resolve(ctx context.Context, token string) (models.Principal, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, fmt.Errorf("token header missing kid")
		}
		return r.keys.Key(ctx, kid)
	},
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithIssuer(r.issuer),
		jwt.WithAudience(r.audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, ErrKeySetUnavailable) {
			return models.Principal{}, err
		}
		return models.Principal{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}

	email, _ := claims["email"].(string)
	if email == "" {
		return models.Principal{}, fmt.Errorf("%w: token carries no email claim", ErrUnauthenticated)
	}
	subject, _ := claims["sub"].(string)
	displayName, _ := claims["name"].(string)

	entry, ok := r.directory.Lookup(email)
	if !ok {
		return models.Principal{}, fmt.Errorf("%w: %s", ErrUnknownCustomer, email)
	}
	if displayName == "" {
		displayName = entry.DisplayName
	}

	principal := models.Principal{
		Email:       email,
		SubjectID:   subject,
		DisplayName: displayName,
		CustomerID:  entry.CustomerID,
	}

	if r.warmup != nil {
		// Best effort: the warmup must never delay or fail the request.
		go func() {
			defer func() {
				if p := recover(); p != nil {
					slog.Error("Cache warmup panicked", "customer_id", principal.CustomerID, "panic", p)
				}
			}()
			r.warmup(principal)
		}()
	}

	return principal, nil
}
