package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/alphabot-ai/scribe/internal/model"
	"github.com/alphabot-ai/scribe/internal/store"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("incorrect email or password")
	ErrInactiveUser       = errors.New("inactive user")
	ErrInvalidToken       = errors.New("could not validate credentials")
	ErrInvalidEmail       = errors.New("invalid email")
	ErrWeakPassword       = fmt.Errorf("password must be at least %d characters", minPasswordLen)
)

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
	minPasswordLen   = 8
)

type Service struct {
	store      store.UserStore
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
}

type Verified struct {
	UserID int64
	Email  string
}

type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

type claims struct {
	Type string `json:"type"`
	jwt.RegisteredClaims
}

func NewService(store store.UserStore, secret string, accessTTL, refreshTTL time.Duration) *Service {
	return &Service{
		store:      store,
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
	}
}

func (s *Service) Register(ctx context.Context, email, password string) (model.User, error) {
	email = NormalizeEmail(email)
	if !strings.Contains(email, "@") || len(email) < 3 {
		return model.User{}, ErrInvalidEmail
	}
	if len(password) < minPasswordLen {
		return model.User{}, ErrWeakPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return model.User{}, err
	}
	user := model.User{
		Email:        email,
		PasswordHash: string(hash),
		IsActive:     true,
		CreatedAt:    time.Now(),
	}
	id, err := s.store.CreateUser(ctx, &user)
	if err != nil {
		return model.User{}, err
	}
	user.ID = id
	return user, nil
}

func (s *Service) Login(ctx context.Context, email, password string) (TokenPair, model.User, error) {
	user, err := s.store.GetUserByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return TokenPair{}, model.User{}, ErrInvalidCredentials
		}
		return TokenPair{}, model.User{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return TokenPair{}, model.User{}, ErrInvalidCredentials
	}
	if !user.IsActive {
		return TokenPair{}, model.User{}, ErrInactiveUser
	}
	pair, err := s.issue(user.ID)
	if err != nil {
		return TokenPair{}, model.User{}, err
	}
	return pair, user, nil
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	userID, err := s.parse(refreshToken, tokenTypeRefresh)
	if err != nil {
		return TokenPair{}, err
	}
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return TokenPair{}, ErrInvalidToken
		}
		return TokenPair{}, err
	}
	if !user.IsActive {
		return TokenPair{}, ErrInactiveUser
	}
	return s.issue(user.ID)
}

func (s *Service) Authenticate(ctx context.Context, bearer string) (Verified, error) {
	userID, err := s.parse(bearer, tokenTypeAccess)
	if err != nil {
		return Verified{}, err
	}
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Verified{}, ErrInvalidToken
		}
		return Verified{}, err
	}
	if !user.IsActive {
		return Verified{}, ErrInactiveUser
	}
	return Verified{UserID: user.ID, Email: user.Email}, nil
}

func (s *Service) issue(userID int64) (TokenPair, error) {
	access, err := s.sign(userID, tokenTypeAccess, s.accessTTL)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := s.sign(userID, tokenTypeRefresh, s.refreshTTL)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
		ExpiresIn:    int(s.accessTTL.Seconds()),
	}, nil
}

func (s *Service) sign(userID int64, typ string, ttl time.Duration) (string, error) {
	now := time.Now()
	c := claims{
		Type: typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.secret)
}

func (s *Service) parse(raw, wantType string) (int64, error) {
	var c claims
	_, err := jwt.ParseWithClaims(raw, &c, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return 0, ErrInvalidToken
	}
	if c.Type != wantType {
		return 0, ErrInvalidToken
	}
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil {
		return 0, ErrInvalidToken
	}
	return id, nil
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
