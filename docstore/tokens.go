package docstore

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"
)

const tokenIssuer = "paros"

// mintAccessToken signs a short-lived HS256 token for userID.
func mintAccessToken(secret []byte, userID string, ttl time.Duration, now time.Time) (string, error) {
	claims := jwt.MapClaims{
		"iss": tokenIssuer,
		"sub": userID,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
		"jti": uuid.NewString(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", errors.Wrap(err, "mintAccessToken")
	}
	return signed, nil
}

// accessTokenValid reports whether raw is one of our unexpired tokens. A
// malformed or foreign token counts as invalid, which sends the caller down
// the refresh path rather than failing outright.
func accessTokenValid(secret []byte, raw string, now time.Time) bool {
	parsed, err := jwt.Parse(raw,
		func(*jwt.Token) (any, error) { return secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	return err == nil && parsed.Valid
}

// newRefreshToken returns an opaque single-use token. 32 random bytes, hex
// encoded; the value itself is the lookup key in paros_refresh_tokens.
func newRefreshToken() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", errors.Wrap(err, "newRefreshToken")
	}
	return hex.EncodeToString(raw), nil
}

// generateChallengeCode returns a six digit one-time code.
func generateChallengeCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", errors.Wrap(err, "generateChallengeCode")
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// hashChallengeCode stores only a bcrypt hash of the code; the plaintext
// exists in the delivery path alone.
func hashChallengeCode(code string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return "", errors.Wrap(err, "hashChallengeCode")
	}
	return string(hash), nil
}

func compareChallengeCode(hash, code string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(code)) == nil
}
