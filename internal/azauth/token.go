package azauth

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/golang-jwt/jwt/v5"
)

// DevOpsScope is the Azure DevOps resource scope for AAD tokens.
const DevOpsScope = "499b84ac-1321-427f-aa17-267ca6975798/.default"

// ErrTokenExpired is returned when the credential hands back a token that
// is already past its exp claim.
var ErrTokenExpired = errors.New("access token already expired")

// TokenSource yields the Authorization credential for one invocation.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// CredentialSource acquires AAD tokens from an azcore credential.
// Tokens are not cached by this type; each call asks the credential.
type CredentialSource struct {
	credential azcore.TokenCredential
	scope      string
	now        func() time.Time
}

// NewManagedIdentitySource builds a source on a user-assigned managed
// identity when clientID is set, or on the default credential chain.
func NewManagedIdentitySource(clientID string) (*CredentialSource, error) {
	var (
		cred azcore.TokenCredential
		err  error
	)
	clientID = strings.TrimSpace(clientID)
	if clientID != "" {
		cred, err = azidentity.NewManagedIdentityCredential(&azidentity.ManagedIdentityCredentialOptions{
			ID: azidentity.ClientID(clientID),
		})
	} else {
		cred, err = azidentity.NewDefaultAzureCredential(nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create azure credential: %w", err)
	}
	return NewCredentialSource(cred, DevOpsScope), nil
}

func NewCredentialSource(cred azcore.TokenCredential, scope string) *CredentialSource {
	if scope == "" {
		scope = DevOpsScope
	}
	return &CredentialSource{credential: cred, scope: scope, now: time.Now}
}

func (s *CredentialSource) Token(ctx context.Context) (string, error) {
	tok, err := s.credential.GetToken(ctx, policy.TokenRequestOptions{Scopes: []string{s.scope}})
	if err != nil {
		return "", fmt.Errorf("failed to get access token: %w", err)
	}
	if tok.Token == "" {
		return "", fmt.Errorf("credential returned an empty access token")
	}

	info, err := Inspect(tok.Token)
	if err != nil {
		// Opaque tokens are still usable; only JWTs can be inspected.
		log.Printf("[Auth] Access token is not a JWT, skipping inspection: %v", err)
		return tok.Token, nil
	}
	if !info.ExpiresAt.IsZero() && !info.ExpiresAt.After(s.now()) {
		return "", fmt.Errorf("%w at %s", ErrTokenExpired, info.ExpiresAt.Format(time.RFC3339))
	}
	log.Printf("[Auth] Acquired token for %s (expires %s)", info.Subject, info.ExpiresAt.Format(time.RFC3339))
	return tok.Token, nil
}

// PATSource authenticates with a personal access token using basic auth.
type PATSource struct {
	header string
}

func NewPATSource(pat string) *PATSource {
	encoded := base64.StdEncoding.EncodeToString([]byte(":" + strings.TrimSpace(pat)))
	return &PATSource{header: "Basic " + encoded}
}

func (s *PATSource) Token(ctx context.Context) (string, error) {
	return s.header, nil
}

// TokenInfo holds the claims worth logging from an AAD access token.
type TokenInfo struct {
	Subject   string
	ExpiresAt time.Time
}

// Inspect decodes the claims of an access token without verifying its
// signature.
func Inspect(token string) (TokenInfo, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return TokenInfo{}, err
	}

	var info TokenInfo
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		info.ExpiresAt = exp.Time
	}
	for _, key := range []string{"oid", "appid", "sub"} {
		if value, ok := claims[key].(string); ok && value != "" {
			info.Subject = value
			break
		}
	}
	return info, nil
}
