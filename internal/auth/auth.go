// Package auth 校验运维请求：管理员会话令牌（HS256 JWT）与 cron 共享密钥。
package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthorized 缺少或无效的凭证。
var ErrUnauthorized = errors.New("unauthorized")

// Config 认证配置。
type Config struct {
	SessionSecret string        `yaml:"session_secret" json:"session_secret"`
	CronSecret    string        `yaml:"cron_secret" json:"cron_secret"`
	Issuer        string        `yaml:"issuer" json:"issuer"`
	TTL           time.Duration `yaml:"ttl" json:"ttl"`
}

// Claims 管理员会话声明。
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Authenticator 签发并校验管理员令牌。
type Authenticator struct {
	cfg Config
	now func() time.Time
}

// New 创建 Authenticator，TTL 默认 24 小时。
func New(cfg Config) *Authenticator {
	if cfg.Issuer == "" {
		cfg.Issuer = "bustime"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	return &Authenticator{cfg: cfg, now: time.Now}
}

// Issue 为管理员签发会话令牌。
func (a *Authenticator) Issue(adminID, username string) (string, error) {
	if a.cfg.SessionSecret == "" {
		return "", fmt.Errorf("session secret not configured")
	}
	now := a.now()
	claims := Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.cfg.Issuer,
			Subject:   adminID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.cfg.TTL)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(a.cfg.SessionSecret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// VerifySession 校验会话令牌，返回声明。
func (a *Authenticator) VerifySession(raw string) (*Claims, error) {
	if a.cfg.SessionSecret == "" || raw == "" {
		return nil, ErrUnauthorized
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return []byte(a.cfg.SessionSecret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(a.cfg.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrUnauthorized)
	}
	return claims, nil
}

// VerifyCron 以常量时间比较 cron 共享密钥。
func (a *Authenticator) VerifyCron(raw string) error {
	if a.cfg.CronSecret == "" || raw == "" {
		return ErrUnauthorized
	}
	if subtle.ConstantTimeCompare([]byte(raw), []byte(a.cfg.CronSecret)) != 1 {
		return ErrUnauthorized
	}
	return nil
}

// BearerToken 取出 Authorization: Bearer 后的令牌，没有时返回空串。
func BearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}
