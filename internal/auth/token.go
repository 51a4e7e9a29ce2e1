// Package auth consumes the verified-identity capability: a signed bearer
// token carrying the owner id and subscription tier. Token issuance lives
// outside this system; only verification happens here.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/Davide9292/v-try.app-sub001/internal/domain"
)

// Claims is the payload of a signed identity token.
type Claims struct {
	Sub  string `json:"sub"`
	Tier string `json:"tier"`
	Exp  int64  `json:"exp"`
	Iss  string `json:"iss"`
}

// Identity is the verified caller attached to a request context.
type Identity struct {
	OwnerID string
	Tier    domain.Tier
}

// Sign produces an HS256 token for claims. Used by tests and local tooling;
// production tokens come from the account service.
func Sign(secret string, claims Claims) (string, error) {
	header := map[string]string{"alg": "HS256", "typ": "JWT"}
	headerJSON, _ := json.Marshal(header)
	payloadJSON, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	data := base64.RawURLEncoding.EncodeToString(headerJSON) + "." +
		base64.RawURLEncoding.EncodeToString(payloadJSON)
	return data + "." + sign(secret, data), nil
}

func sign(secret, data string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(data))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// Verify checks the signature and expiry and returns the caller's identity.
func Verify(secret, token string) (Identity, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return Identity{}, errors.New("invalid token")
	}
	expected := sign(secret, parts[0]+"."+parts[1])
	if !hmac.Equal([]byte(expected), []byte(parts[2])) {
		return Identity{}, errors.New("invalid signature")
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return Identity{}, errors.New("invalid token payload")
	}
	var claims Claims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return Identity{}, errors.New("invalid token claims")
	}
	if claims.Exp != 0 && time.Now().Unix() > claims.Exp {
		return Identity{}, errors.New("token expired")
	}
	if claims.Sub == "" {
		return Identity{}, errors.New("token missing subject")
	}
	tier := domain.Tier(strings.ToUpper(claims.Tier))
	if tier == "" {
		tier = domain.TierFree
	}
	return Identity{OwnerID: claims.Sub, Tier: tier}, nil
}
