package middleware

import (
	"net/http"
	"strings"

	"paylane/config"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt"
)

// APIClaims is the token shape issued to internal callers. Scopes gate the
// sensitive operations; refunds in particular require an explicit grant.
type APIClaims struct {
	Scopes []string `json:"scopes"`
	jwt.StandardClaims
}

func (c *APIClaims) hasScope(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// AuthMiddleware validates the bearer token and stores the caller identity
// and claims on the request context.
func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Missing or invalid Authorization header"})
			return
		}
		tokenString := strings.TrimPrefix(authHeader, "Bearer ")

		claims := &APIClaims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return []byte(config.AppConfig.JWTSecret), nil
		})
		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			return
		}

		c.Set("clientID", claims.Subject)
		c.Set("apiClaims", claims)
		c.Next()
	}
}

// RequireScope rejects callers whose token lacks the given scope. Must run
// after AuthMiddleware.
func RequireScope(scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		v, ok := c.Get("apiClaims")
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Missing credentials"})
			return
		}
		claims, ok := v.(*APIClaims)
		if !ok || !claims.hasScope(scope) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Insufficient scope"})
			return
		}
		c.Next()
	}
}
