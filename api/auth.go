package api

import (
	"fmt"

	gojwt "github.com/golang-jwt/jwt/v5"
)

// tokenValidator builds the bearer token validator the auth middleware
// calls: HS256 signature, expiry and not-before checks via the parser.
func tokenValidator(secret string) func(string) (map[string]interface{}, error) {
	key := []byte(secret)
	return func(token string) (map[string]interface{}, error) {
		claims := gojwt.MapClaims{}
		parsed, err := gojwt.ParseWithClaims(token, claims, func(t *gojwt.Token) (interface{}, error) {
			if t.Method.Alg() != gojwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("unexpected signing method %s", t.Method.Alg())
			}
			return key, nil
		}, gojwt.WithValidMethods([]string{gojwt.SigningMethodHS256.Alg()}))
		if err != nil {
			return nil, err
		}
		if !parsed.Valid {
			return nil, fmt.Errorf("invalid token")
		}
		return claims, nil
	}
}
