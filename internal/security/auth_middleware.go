package security

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"chart-gateway/internal/utils"
	"chart-gateway/pkg/response"
)

const claimsKey = "user_claims"

// AuthMiddleware provides JWT authentication middleware
type AuthMiddleware struct {
	jwtManager *JWTManager
	enabled    bool
}

// NewAuthMiddleware creates a new AuthMiddleware. A disabled middleware
// lets every request through.
func NewAuthMiddleware(jwtManager *JWTManager, enabled bool) *AuthMiddleware {
	return &AuthMiddleware{
		jwtManager: jwtManager,
		enabled:    enabled,
	}
}

// RequireAuth rejects requests without a valid bearer token
func (am *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !am.enabled {
			c.Next()
			return
		}

		token, err := am.jwtManager.ExtractTokenFromHeader(c.GetHeader("Authorization"))
		if err != nil {
			am.abort(c, utils.ErrCodeUnauthorized, err.Error())
			return
		}

		claims, err := am.jwtManager.ValidateToken(token)
		if err != nil {
			if errors.Is(err, jwt.ErrTokenExpired) {
				am.abort(c, utils.ErrCodeTokenExpired, "Token has expired")
				return
			}
			am.abort(c, utils.ErrCodeInvalidToken, "Invalid token")
			return
		}

		c.Set(claimsKey, claims)
		c.Set("user_id", claims.UserID)
		c.Next()
	}
}

// RequireRole rejects authenticated requests lacking any of roles
func (am *AuthMiddleware) RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !am.enabled {
			c.Next()
			return
		}

		claims, ok := GetUserClaims(c)
		if !ok {
			am.abort(c, utils.ErrCodeUnauthorized, "User claims not found")
			return
		}
		if !claims.HasAnyRole(roles...) {
			am.abort(c, utils.ErrCodeForbidden, "Insufficient permissions")
			return
		}
		c.Next()
	}
}

func (am *AuthMiddleware) abort(c *gin.Context, code, message string) {
	status, ok := utils.HTTPStatus[code]
	if !ok {
		status = http.StatusUnauthorized
	}
	c.AbortWithStatusJSON(status, response.ErrorResponse(code, message, getCorrelationID(c)))
}

func getCorrelationID(c *gin.Context) string {
	if correlationID, exists := c.Get("correlation_id"); exists {
		if id, ok := correlationID.(string); ok {
			return id
		}
	}
	return ""
}

// GetUserClaims extracts user claims from context
func GetUserClaims(c *gin.Context) (*Claims, bool) {
	claims, exists := c.Get(claimsKey)
	if !exists {
		return nil, false
	}
	userClaims, ok := claims.(*Claims)
	return userClaims, ok
}
