package gmb

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	stateTTL     = 10 * time.Minute
	statePurpose = "gmb_connect"
)

type stateClaims struct {
	FranchiseeID uint   `json:"franchisee_id"`
	UserID       uint   `json:"user_id"`
	Purpose      string `json:"purpose"`
	jwt.RegisteredClaims
}

// SignState binds an OAuth round trip to the franchisee that started it.
func SignState(secret string, franchiseeID, userID uint, now time.Time) (string, error) {
	claims := stateClaims{
		FranchiseeID: franchiseeID,
		UserID:       userID,
		Purpose:      statePurpose,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(stateTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func ParseState(secret, state string) (franchiseeID, userID uint, err error) {
	var claims stateClaims
	_, err = jwt.ParseWithClaims(state, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return 0, 0, err
	}
	if claims.Purpose != statePurpose || claims.FranchiseeID == 0 {
		return 0, 0, errors.New("state is not a google connect state")
	}
	return claims.FranchiseeID, claims.UserID, nil
}
