package azauth

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/golang-jwt/jwt/v5"
)

type fakeCredential struct {
	token  string
	err    error
	scopes []string
	calls  int
}

func (f *fakeCredential) GetToken(ctx context.Context, opts policy.TokenRequestOptions) (azcore.AccessToken, error) {
	f.calls++
	f.scopes = opts.Scopes
	if f.err != nil {
		return azcore.AccessToken{}, f.err
	}
	return azcore.AccessToken{Token: f.token, ExpiresOn: time.Now().Add(time.Hour)}, nil
}

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-key"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestCredentialSourceRequestsDevOpsScopeEachCall(t *testing.T) {
	token := signedToken(t, jwt.MapClaims{"oid": "bot-oid", "exp": time.Now().Add(time.Hour).Unix()})
	cred := &fakeCredential{token: token}
	source := NewCredentialSource(cred, "")

	for i := 0; i < 2; i++ {
		got, err := source.Token(context.Background())
		if err != nil {
			t.Fatalf("Token returned error: %v", err)
		}
		if got != token {
			t.Fatalf("unexpected token %q", got)
		}
	}
	if cred.calls != 2 {
		t.Fatalf("credential calls = %d, want 2 (no caching)", cred.calls)
	}
	if len(cred.scopes) != 1 || cred.scopes[0] != DevOpsScope {
		t.Fatalf("scopes = %v", cred.scopes)
	}
}

func TestCredentialSourceRejectsExpiredToken(t *testing.T) {
	token := signedToken(t, jwt.MapClaims{"oid": "bot-oid", "exp": time.Now().Add(-time.Minute).Unix()})
	source := NewCredentialSource(&fakeCredential{token: token}, DevOpsScope)

	_, err := source.Token(context.Background())
	if !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestCredentialSourceAcceptsOpaqueToken(t *testing.T) {
	source := NewCredentialSource(&fakeCredential{token: "opaque-token"}, DevOpsScope)

	got, err := source.Token(context.Background())
	if err != nil {
		t.Fatalf("Token returned error: %v", err)
	}
	if got != "opaque-token" {
		t.Fatalf("got %q", got)
	}
}

func TestCredentialSourcePropagatesCredentialError(t *testing.T) {
	source := NewCredentialSource(&fakeCredential{err: errors.New("imds unavailable")}, DevOpsScope)

	if _, err := source.Token(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestPATSourceBuildsBasicHeader(t *testing.T) {
	got, err := NewPATSource(" pat-value ").Token(context.Background())
	if err != nil {
		t.Fatalf("Token returned error: %v", err)
	}
	want := "Basic " + base64.StdEncoding.EncodeToString([]byte(":pat-value"))
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestInspectReadsSubjectAndExpiry(t *testing.T) {
	exp := time.Now().Add(30 * time.Minute).Truncate(time.Second)
	token := signedToken(t, jwt.MapClaims{"appid": "app-1", "exp": exp.Unix()})

	info, err := Inspect(token)
	if err != nil {
		t.Fatalf("Inspect returned error: %v", err)
	}
	if info.Subject != "app-1" {
		t.Fatalf("subject = %q", info.Subject)
	}
	if !info.ExpiresAt.Equal(exp) {
		t.Fatalf("expires = %v, want %v", info.ExpiresAt, exp)
	}
	if _, err := Inspect("not-a-jwt"); err == nil {
		t.Fatal("expected error for malformed token")
	}
}
