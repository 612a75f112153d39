package security

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"premium-access/internal/domain"
)

const deviceTokenIssuer = "premium-access"

// DeviceClaims binds a device id to a user. The token is minted after the
// first admitted login and replaces the client fingerprint on later calls.
type DeviceClaims struct {
	DeviceID string `json:"did"`
	jwt.RegisteredClaims
}

func (c *DeviceClaims) UserID() string { return c.Subject }

type DeviceTokens struct {
	secret []byte
	ttl    time.Duration
}

func NewDeviceTokens(secret string, ttl time.Duration) (*DeviceTokens, error) {
	if secret == "" {
		return nil, errors.New("device token secret is required")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("device token ttl must be positive, got %v", ttl)
	}
	return &DeviceTokens{secret: []byte(secret), ttl: ttl}, nil
}

// Issue signs a token for (userID, deviceID) valid from now for the configured TTL.
func (d *DeviceTokens) Issue(userID, deviceID string, now time.Time) (string, time.Time, error) {
	exp := now.Add(d.ttl)
	claims := DeviceClaims{
		DeviceID: deviceID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    deviceTokenIssuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(d.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// Verify parses raw and checks signature, issuer and validity window at now.
// Every failure maps to domain.ErrInvalidDeviceToken.
func (d *DeviceTokens) Verify(raw string, now time.Time) (*DeviceClaims, error) {
	claims := &DeviceClaims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return d.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(deviceTokenIssuer),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil || !tok.Valid {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidDeviceToken, err)
	}
	if claims.Subject == "" || claims.DeviceID == "" {
		return nil, domain.ErrInvalidDeviceToken
	}
	return claims, nil
}
