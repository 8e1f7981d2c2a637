package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

func TestTokenRoundTrip(t *testing.T) {
	userID := uuid.New()
	token, err := GenerateToken(userID, "a@example.com", "s3cret", time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	claims, err := ParseToken(token, "s3cret")
	if err != nil {
		t.Fatalf("ParseToken: %v", err)
	}
	if claims.UserID != userID || claims.Email != "a@example.com" {
		t.Errorf("claims = %+v", claims)
	}
	if claims.Subject != userID.String() || claims.Issuer != "chatline" {
		t.Errorf("registered claims = %+v", claims.RegisteredClaims)
	}
}

func TestParseTokenRejects(t *testing.T) {
	userID := uuid.New()
	expired, _ := GenerateToken(userID, "", "s3cret", -time.Minute)
	noUser, _ := GenerateToken(uuid.Nil, "", "s3cret", time.Hour)

	otherIssuer := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "someone-else",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	foreignIssuer, _ := otherIssuer.SignedString([]byte("s3cret"))

	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: userID, RegisteredClaims: jwt.RegisteredClaims{Issuer: issuer}})
	none, _ := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)

	tests := map[string]string{
		"expired":        expired,
		"nil user":       noUser,
		"foreign issuer": foreignIssuer,
		"alg none":       none,
		"garbage":        "abc.def.ghi",
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseToken(token, "s3cret"); err == nil {
				t.Error("ParseToken accepted the token")
			}
		})
	}
}
