// Package gateway implements the auth and middleware logic shared across
// qirsh services.
package gateway

import (
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt"
	log "github.com/sirupsen/logrus"
)

// JWTAuth provides an encapsulation for jwt auth
type JWTAuth struct {
	Key []byte
}

// TokenClaims carry the authenticated user's mobile, our canonical user id.
type TokenClaims struct {
	Mobile string `json:"mobile"`
	jwt.StandardClaims
}

// Init initializes jwt auth with a random key when none is configured.
func (j *JWTAuth) Init() {
	if len(j.Key) != 0 {
		return
	}
	key, _ := GenerateSecretKey(50)
	j.Key = key
}

// GenerateJWT generates a JWT standard token for the given user.
func (j *JWTAuth) GenerateJWT(mobile string) (string, error) {
	expiresAt := time.Now().Add(time.Hour * 24).UTC().Unix()
	claims := TokenClaims{
		mobile,
		jwt.StandardClaims{
			ExpiresAt: expiresAt,
			Issuer:    "qirsh",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	if j.Key == nil {
		return "", errors.New("empty jwt key")
	}
	return token.SignedString(j.Key)
}

// VerifyJWT validates a token string against TokenClaims.
func (j *JWTAuth) VerifyJWT(tokenString string) (*TokenClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &TokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return j.Key, nil
	})
	if err != nil {
		return nil, err
	}
	if claims, ok := token.Claims.(*TokenClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, errors.New("invalid token")
}

// AuthMiddleware is a JWT authorization middleware. It aborts with 401 when
// no valid session is presented and stores the mobile in the context
// otherwise.
func (a *JWTAuth) AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := sessionToken(c)
		if h == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "empty header was sent",
				"code": "unauthorized"})
			return
		}
		claims, err := a.VerifyJWT(h)
		if err != nil {
			if e, ok := err.(*jwt.ValidationError); ok && e.Errors&jwt.ValidationErrorExpired != 0 {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"message": "Token has expired", "code": "jwt_expired"})
				return
			}
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"message": "Malformed token", "code": "jwt_malformed"})
			return
		}
		c.Set("mobile", claims.Mobile)
		c.Next()
	}
}

// SoftAuthMiddleware resolves the session when one is present and carries
// on otherwise. The linking callback arrives as a browser redirect, so the
// session may legitimately be missing; the handler decides what a missing
// owner means.
func (a *JWTAuth) SoftAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := sessionToken(c)
		if h == "" {
			c.Next()
			return
		}
		claims, err := a.VerifyJWT(h)
		if err != nil {
			log.WithFields(log.Fields{"code": err.Error()}).Info("soft auth: invalid session token")
			c.Next()
			return
		}
		c.Set("mobile", claims.Mobile)
		c.Next()
	}
}

func sessionToken(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); h != "" {
		return h
	}
	// browser redirects carry the session in a cookie instead
	if cookie, err := c.Cookie("qirsh_session"); err == nil {
		return cookie
	}
	return ""
}

// GenerateSecretKey generates secret key for jwt signing
func GenerateSecretKey(n int) ([]byte, error) {
	key := make([]byte, n)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return key, nil
}

// OptionsMiddleware for cors headers
func OptionsMiddleware(c *gin.Context) {
	if c.Request.Method != "OPTIONS" {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Next()
	} else {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
		c.Header("Access-Control-Allow-Headers", "authorization, origin, content-type, accept, X-CSRF-TOKEN")
		c.Header("Allow", "HEAD,GET,POST,PUT,PATCH,DELETE,OPTIONS")
		c.Header("Content-Type", "application/json")
		c.AbortWithStatus(http.StatusOK)
	}
}
