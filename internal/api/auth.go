package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/gin-gonic/gin"

	"maitred/internal/models"
)

const identityKey = "identity"

// Claims identify the staff member behind a request
type Claims struct {
	StaffID      uint             `json:"staff_id"`
	RestaurantID uint             `json:"restaurant_id"`
	Name         string           `json:"name"`
	Role         models.StaffRole `json:"role"`
	jwt.StandardClaims
}

// IssueToken signs claims valid for ttl
func IssueToken(secret string, claims Claims, ttl time.Duration) (string, error) {
	now := time.Now()
	claims.IssuedAt = now.Unix()
	claims.ExpiresAt = now.Add(ttl).Unix()
	return jwt.NewWithClaims(jwt.SigningMethodHS256, &claims).SignedString([]byte(secret))
}

func bearer(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	// browsers cannot set headers on websocket upgrades
	return c.Query("token")
}

// AuthMiddleware handles JWT authentication
func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := bearer(c)
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			return
		}

		claims := &Claims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return []byte(secret), nil
		})
		if err != nil || !token.Valid || claims.RestaurantID == 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			return
		}

		c.Set(identityKey, *claims)
		c.Next()
	}
}

// staticIdentity stands in for the token when auth is disabled
func staticIdentity(restaurantID uint) gin.HandlerFunc {
	id := Claims{RestaurantID: restaurantID, Name: "local", Role: models.RoleManager}
	return func(c *gin.Context) {
		c.Set(identityKey, id)
		c.Next()
	}
}

func identity(c *gin.Context) Claims {
	v, _ := c.Get(identityKey)
	claims, _ := v.(Claims)
	return claims
}
