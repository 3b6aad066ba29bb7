package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"order-tracking-service/internal/model"
)

var ErrInvalidToken = errors.New("invalid token")

// Servicio que valida tokens contra el proveedor de identidad externo.
// Con jwtSecret configurado, valida localmente tokens HS256 sin llamar afuera.
type AuthService struct {
	authURL   string
	jwtSecret []byte
	client    *http.Client
}

// AuthUser es la respuesta de /users/current.
type AuthUser struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Phone       string     `json:"phone"`
	Role        model.Role `json:"role"`
	Permissions []string   `json:"permissions"`
	Enabled     bool       `json:"enabled"`
}

// Claims de los tokens emitidos para la app.
type Claims struct {
	Name  string     `json:"name"`
	Phone string     `json:"phone"`
	Role  model.Role `json:"role"`
	jwt.RegisteredClaims
}

func NewAuthService(authURL, jwtSecret string) *AuthService {
	return &AuthService{
		authURL:   authURL,
		jwtSecret: []byte(jwtSecret),
		client: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

func (a *AuthService) ValidateToken(ctx context.Context, token string) (*model.User, error) {
	if len(a.jwtSecret) > 0 {
		return a.parseJWT(token)
	}
	return a.current(ctx, token)
}

func (a *AuthService) parseJWT(token string) (*model.User, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return a.jwtSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return &model.User{ID: claims.Subject, Name: claims.Name, Phone: claims.Phone, Role: claims.Role}, nil
}

// IssueToken firma un token local; lo usan los entornos de desarrollo.
func (a *AuthService) IssueToken(u model.User, ttl time.Duration) (string, error) {
	if len(a.jwtSecret) == 0 {
		return "", errors.New("AUTH_JWT_SECRET no configurado")
	}
	now := time.Now()
	claims := Claims{
		Name:  u.Name,
		Phone: u.Phone,
		Role:  u.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.jwtSecret)
}

// Valida el token consultando a /users/current del microservicio de auth.
func (a *AuthService) current(ctx context.Context, token string) (*model.User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/users/current", a.authURL), nil)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("auth request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, ErrInvalidToken
	}

	var user AuthUser
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, err
	}

	if !user.Enabled {
		return nil, errors.New("user disabled")
	}

	return &model.User{ID: user.ID, Name: user.Name, Phone: user.Phone, Role: roleOf(user)}, nil
}

// roleOf usa el rol explícito o lo deduce de los permisos.
func roleOf(u AuthUser) model.Role {
	if u.Role != "" {
		return u.Role
	}
	switch {
	case slices.Contains(u.Permissions, "owner"), slices.Contains(u.Permissions, "admin"):
		return model.RoleOwner
	case slices.Contains(u.Permissions, "rider"):
		return model.RoleRider
	}
	return model.RoleCustomer
}
