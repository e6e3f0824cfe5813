// Package auth authenticates users and issues realm-scoped credentials,
// either stateless JWTs or redis-backed sessions.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"assetrules/internal/models"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
	ErrUserExists         = errors.New("username already exists")
)

const (
	tokenTTL       = 24 * time.Hour
	sessionRefresh = 20 * time.Hour
)

type Module struct {
	db        *pgxpool.Pool
	redis     *redis.Client
	jwtSecret string
}

func New(db *pgxpool.Pool, redis *redis.Client, jwtSecret string) *Module {
	return &Module{db: db, redis: redis, jwtSecret: jwtSecret}
}

func generateSecureToken(length int) (string, error) {
	randomBytes := make([]byte, length)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(randomBytes), nil
}

func (a *Module) createUser(ctx context.Context, username, password, realm string) (string, error) {
	var exists bool
	err := a.db.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM users WHERE username = $1)", username).Scan(&exists)
	if err != nil {
		return "", err
	}
	if exists {
		return "", ErrUserExists
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}

	var userID string
	err = a.db.QueryRow(ctx,
		"INSERT INTO users (username, password, realm, roles) VALUES ($1, $2, $3, $4) RETURNING id",
		username, string(hashed), realm, []string{"read", "write"},
	).Scan(&userID)
	if err != nil {
		return "", err
	}
	return userID, nil
}

func (a *Module) authenticate(ctx context.Context, username, password string) (models.RealmContext, error) {
	var rc models.RealmContext
	var passwordHash string
	err := a.db.QueryRow(ctx,
		"SELECT id, password, realm, roles FROM users WHERE username = $1", username).
		Scan(&rc.UserID, &passwordHash, &rc.Realm, &rc.Roles)
	if err != nil {
		return models.RealmContext{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(password)); err != nil {
		return models.RealmContext{}, ErrInvalidCredentials
	}
	return rc, nil
}

func (a *Module) generateJWT(rc models.RealmContext) (string, error) {
	claims := jwt.MapClaims{
		"sub":   rc.UserID,
		"realm": rc.Realm,
		"roles": rc.Roles,
		"exp":   time.Now().Add(tokenTTL).Unix(),
		"iat":   time.Now().Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(a.jwtSecret))
}

// Register creates a user in the realm and returns a JWT for it.
func (a *Module) Register(ctx context.Context, username, password, realm string) (string, error) {
	userID, err := a.createUser(ctx, username, password, realm)
	if err != nil {
		return "", err
	}
	return a.generateJWT(models.RealmContext{UserID: userID, Realm: realm, Roles: []string{"read", "write"}})
}

// Login verifies credentials and returns a JWT carrying the user's realm.
func (a *Module) Login(ctx context.Context, username, password string) (string, error) {
	rc, err := a.authenticate(ctx, username, password)
	if err != nil {
		return "", err
	}
	return a.generateJWT(rc)
}

// ValidateToken parses a JWT and reconstructs the realm context it carries.
func (a *Module) ValidateToken(_ context.Context, token string) (models.RealmContext, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(a.jwtSecret), nil
	})
	if err != nil || !parsed.Valid {
		return models.RealmContext{}, ErrInvalidToken
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return models.RealmContext{}, ErrInvalidToken
	}
	rc := models.RealmContext{}
	if rc.UserID, ok = claims["sub"].(string); !ok {
		return models.RealmContext{}, ErrInvalidToken
	}
	if rc.Realm, ok = claims["realm"].(string); !ok {
		return models.RealmContext{}, ErrInvalidToken
	}
	if roles, ok := claims["roles"].([]interface{}); ok {
		for _, r := range roles {
			if s, ok := r.(string); ok {
				rc.Roles = append(rc.Roles, s)
			}
		}
	}
	return rc, nil
}

// LoginWithSession verifies credentials and stores a session in redis.
func (a *Module) LoginWithSession(ctx context.Context, username, password string) (string, error) {
	rc, err := a.authenticate(ctx, username, password)
	if err != nil {
		return "", err
	}
	token, err := generateSecureToken(32)
	if err != nil {
		return "", err
	}
	if err := a.redis.Set(ctx, "session:"+token, rc.UserID, tokenTTL).Err(); err != nil {
		return "", err
	}
	return token, nil
}

// ValidateSession resolves a session token to its user, sliding the
// expiration once the session is old enough.
func (a *Module) ValidateSession(ctx context.Context, token string) (string, error) {
	key := "session:" + token
	userID, err := a.redis.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", ErrInvalidToken
	}
	if err != nil {
		return "", err
	}

	ttl, err := a.redis.TTL(ctx, key).Result()
	if err != nil && err != redis.Nil {
		return "", err
	}
	if ttl < sessionRefresh {
		if err := a.redis.Expire(ctx, key, tokenTTL).Err(); err != nil {
			return "", err
		}
	}
	return userID, nil
}

// Logout drops a redis session. JWTs are discarded client-side.
func (a *Module) Logout(ctx context.Context, token string) error {
	return a.redis.Del(ctx, "session:"+token).Err()
}

// ChangePassword changes the user's password after verifying the old one.
func (a *Module) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error {
	var passwordHash string
	err := a.db.QueryRow(ctx, "SELECT password FROM users WHERE id = $1", userID).Scan(&passwordHash)
	if err != nil {
		return errors.New("user not found")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(oldPassword)); err != nil {
		return ErrInvalidCredentials
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	_, err = a.db.Exec(ctx, "UPDATE users SET password = $1 WHERE id = $2", string(hashed), userID)
	return err
}
