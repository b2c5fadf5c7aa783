package auth

import (
	"context"

	"golang.org/x/oauth2"

	"github.com/majorcontext/xboxauth/internal/credential"
)

// TokenType is the authorization scheme of Xbox Live service calls.
const TokenType = "XBL3.0"

type gateTokenSource struct {
	ctx  context.Context
	gate *Gate
}

// TokenSource adapts g to oauth2.TokenSource so an oauth2.Transport can
// authorize Xbox Live requests. The resulting header is
// "XBL3.0 x=<user hash>;<token>".
func TokenSource(ctx context.Context, g *Gate) oauth2.TokenSource {
	return &gateTokenSource{ctx: ctx, gate: g}
}

func (s *gateTokenSource) Token() (*oauth2.Token, error) {
	id, ok := s.gate.Identity(s.ctx)
	if !ok {
		return nil, ErrUnauthenticated
	}
	return &oauth2.Token{
		AccessToken: "x=" + id.UserHash + ";" + id.Token.Value,
		TokenType:   TokenType,
		// Expire the oauth2 copy when the gate would stop serving it.
		Expiry: id.Token.Expires.Add(-credential.FreshnessMargin),
	}, nil
}
