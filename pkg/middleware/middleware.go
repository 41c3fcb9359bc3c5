package middleware

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/tradepulse/tradepulse-api/internal/auth"
	"github.com/tradepulse/tradepulse-api/pkg/response"
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

var (
	visitors = make(map[string]*visitor)
	mu       sync.RWMutex

	// Configure limits per endpoint type
	authLimit  = rate.Limit(10.0 / 60.0)   // 10 requests per minute
	writeLimit = rate.Limit(100.0 / 60.0)  // 100 requests per minute
	readLimit  = rate.Limit(1000.0 / 60.0) // 1000 requests per minute
)

// Cleanup old visitors periodically
func init() {
	go cleanupVisitors()
}

func getLimiter(path, clientID string) *rate.Limiter {
	mu.Lock()
	defer mu.Unlock()

	key := clientID + ":" + path
	v, exists := visitors[key]

	if !exists {
		var limit rate.Limit
		switch {
		case strings.HasPrefix(path, "/api/v1/auth"):
			limit = authLimit
		case strings.HasPrefix(path, "/api/v1/internal"):
			limit = writeLimit
		case strings.HasPrefix(path, "/api/v1/trades"), strings.HasPrefix(path, "/api/v1/notifications"):
			limit = readLimit
		default:
			limit = rate.Inf // No limit for other paths
		}

		v = &visitor{
			limiter:  rate.NewLimiter(limit, 1), // burst of 1
			lastSeen: time.Now(),
		}
		visitors[key] = v
	}

	v.lastSeen = time.Now()
	return v.limiter
}

func cleanupVisitors() {
	for {
		time.Sleep(time.Minute)

		mu.Lock()
		for ip, v := range visitors {
			if time.Since(v.lastSeen) > 3*time.Minute {
				delete(visitors, ip)
			}
		}
		mu.Unlock()
	}
}

func RateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientID := c.GetString("userID")
		if clientID == "" {
			clientID = c.ClientIP()
		}

		limiter := getLimiter(c.FullPath(), clientID)
		if !limiter.Allow() {
			response.BadRequest(c, "Rate limit exceeded. Please try again later.")
			c.Abort()
			return
		}

		c.Next()
	}
}

// ExtractToken pulls the bearer token from the Authorization header or, for
// websocket clients that cannot set headers, from the token/access_token
// query parameters.
func ExtractToken(c *gin.Context) string {
	if header := c.GetHeader("Authorization"); header != "" {
		parts := strings.Split(header, " ")
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return parts[1]
		}
	}
	if token := c.Query("token"); token != "" {
		return token
	}
	return c.Query("access_token")
}

// BearerAuth authenticates the request through the identity collaborator and
// stores the resolved user on the context.
func BearerAuth(identity auth.Identity) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := ExtractToken(c)
		if token == "" {
			response.Unauthorized(c, "Authentication token required")
			c.Abort()
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), auth.ValidateTimeout)
		defer cancel()

		claims, err := identity.ValidateToken(ctx, token)
		if err != nil {
			response.Unauthorized(c, "Invalid token")
			c.Abort()
			return
		}

		c.Set("claims", claims)
		c.Set("userID", claims.UserID)
		c.Set("userType", claims.UserType)
		c.Next()
	}
}

// AnalystAuth guards the internal mutation endpoints. It runs after
// BearerAuth and requires an analyst token.
func AnalystAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString("userType") != "analyst" {
			response.Forbidden(c, "Analyst access required")
			c.Abort()
			return
		}
		c.Next()
	}
}

// UserID returns the authenticated user id set by BearerAuth.
func UserID(c *gin.Context) string {
	return c.GetString("userID")
}
