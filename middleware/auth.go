package middleware

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"wardflow/models"
	"wardflow/pkg/config"
	tokenstore "wardflow/pkg/token"
)

const (
	ContextUserKey = "current_user"
	ContextJTIKey  = "current_jti"
)

// AuthenticatedUser is the narrow identity passed into the service layer.
// It is populated once here, at the boundary; handlers never re-read raw
// token claims.
type AuthenticatedUser struct {
	ID   uint
	Role string
}

func (u AuthenticatedUser) IsAdmin() bool { return u.Role == models.RoleAdmin }

// CurrentUser returns the identity placed in the context by AuthMiddleware.
func CurrentUser(c *gin.Context) (AuthenticatedUser, bool) {
	v, ok := c.Get(ContextUserKey)
	if !ok {
		return AuthenticatedUser{}, false
	}
	u, ok := v.(AuthenticatedUser)
	return u, ok
}

func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if auth == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"msg": "missing authorization header"})
			return
		}
		parts := strings.Fields(auth)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"msg": "invalid authorization header"})
			return
		}

		user, jti, err := ParseToken(parts[1])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"msg": err.Error()})
			return
		}

		c.Set(ContextUserKey, user)
		c.Set(ContextJTIKey, jti)
		c.Next()
	}
}

// RequireAdmin guards admin-only routes; must run after AuthMiddleware.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := CurrentUser(c)
		if !ok || !user.IsAdmin() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"msg": "admin access required"})
			return
		}
		c.Next()
	}
}

// ParseToken validates an HMAC JWT and resolves it to an AuthenticatedUser.
// Shared with the websocket transport, which authenticates via query param.
func ParseToken(tokenStr string) (AuthenticatedUser, string, error) {
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		// only accept HMAC signing
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return []byte(config.JWTSecret), nil
	})
	if err != nil || !token.Valid {
		return AuthenticatedUser{}, "", errInvalidToken
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return AuthenticatedUser{}, "", errInvalidToken
	}

	jti, _ := claims["jti"].(string)
	if tokenstore.IsRevoked(jti) {
		return AuthenticatedUser{}, "", errRevokedToken
	}

	var uid uint64
	if sub, ok := claims["sub"].(string); ok {
		uid, _ = strconv.ParseUint(sub, 10, 64)
	} else if subf, ok := claims["sub"].(float64); ok {
		// jwt lib may parse numeric as float64
		uid = uint64(subf)
	}
	if uid == 0 {
		return AuthenticatedUser{}, "", errInvalidToken
	}

	role, _ := claims["role"].(string)
	if role == "" {
		role = models.RoleNurse
	}

	return AuthenticatedUser{ID: uint(uid), Role: role}, jti, nil
}

var (
	errInvalidToken = errors.New("invalid token")
	errRevokedToken = errors.New("token has been revoked")
)
