package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// Operator roles carried in tokens. Admins manage operators and every
// guild, TOs run their own guild, and bridge tokens authenticate the
// chat bridge websocket.
const (
	RoleAdmin  = "admin"
	RoleTO     = "to"
	RoleBridge = "bridge"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims is what a validated token asserts about its bearer.
type Claims struct {
	OperatorID string
	Role       string
	GuildID    string
}

type Service struct {
	jwtSecret []byte
	tokenTTL  time.Duration
}

func NewService(secret string) *Service {
	return &Service{jwtSecret: []byte(secret), tokenTTL: 24 * time.Hour}
}

func (s *Service) HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), 14)
	return string(bytes), err
}

func (s *Service) CheckPassword(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

func (s *Service) GenerateToken(operatorID, role, guildID string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"operator_id": operatorID,
		"role":        role,
		"guild_id":    guildID,
		"exp":         time.Now().Add(s.tokenTTL).Unix(),
	})
	return token.SignedString(s.jwtSecret)
}

func (s *Service) ValidateToken(tokenString string) (Claims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return Claims{}, err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return Claims{}, ErrInvalidToken
	}

	operatorID, ok := claims["operator_id"].(string)
	if !ok {
		return Claims{}, ErrInvalidToken
	}
	role, _ := claims["role"].(string)
	guildID, _ := claims["guild_id"].(string)

	return Claims{OperatorID: operatorID, Role: role, GuildID: guildID}, nil
}

// GenerateID returns a random 32 character hex ID for new operators.
func GenerateID() string {
	bytes := make([]byte, 16)
	rand.Read(bytes)
	return hex.EncodeToString(bytes)
}
