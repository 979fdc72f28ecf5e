package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"
)

// VerifyBasicAuth verifies the service hook's basic auth credentials
// using constant-time comparison
func VerifyBasicAuth(header, username, password string) bool {
	user, pass, ok := parseBasicAuth(header)
	if !ok {
		return false
	}

	// Compare digests so the comparison does not leak lengths
	userOK := hmac.Equal(digest(user), digest(username))
	passOK := hmac.Equal(digest(pass), digest(password))
	return userOK && passOK
}

// ValidateAuthorizationHeader validates the Authorization header shape
func ValidateAuthorizationHeader(header string) error {
	if header == "" {
		return fmt.Errorf("missing Authorization header")
	}
	if !strings.HasPrefix(header, "Basic ") {
		return fmt.Errorf("invalid authorization scheme, expected 'Basic <credentials>'")
	}
	return nil
}

func parseBasicAuth(header string) (string, string, bool) {
	encoded, found := strings.CutPrefix(header, "Basic ")
	if !found {
		return "", "", false
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return "", "", false
	}
	return strings.Cut(string(decoded), ":")
}

func digest(value string) []byte {
	sum := sha256.Sum256([]byte(value))
	return sum[:]
}
