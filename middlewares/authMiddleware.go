package middlewares

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/supply_backend/config"
	"github.com/mmdatafocus/supply_backend/models"
	"github.com/mmdatafocus/supply_backend/utils"
)

// AuthMiddleware parses the Bearer token and loads the session identity into
// the request context. Requests without a token pass through; RequireAuth
// gates the routes that need one.
func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.Request.Header.Get("Authorization")
		if auth == "" {
			c.Next()
			return
		}

		bearer := "Bearer "
		if !strings.HasPrefix(auth, bearer) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}
		token := auth[len(bearer):]

		validate, err := utils.JwtValidate(token)
		if err != nil || !validate.Valid {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}
		claim, ok := validate.Claims.(*utils.JwtCustomClaim)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}

		var user models.User
		exists, err := config.GetRedisObject("User:"+claim.Username, &user)
		if err != nil || !exists {
			db := config.GetDB()
			if db == nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": "service unavailable"})
				c.Abort()
				return
			}
			if err := db.WithContext(c.Request.Context()).
				Where("id = ?", claim.ID).Take(&user).Error; err != nil {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
				c.Abort()
				return
			}
			_ = config.SetRedisObject("User:"+user.Username, &user, utils.GetCacheLifespan())
		}

		if user.IsActive != nil && !*user.IsActive {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}

		ctx := utils.SetTokenInContext(c.Request.Context(), token)
		ctx = utils.SetUserIdInContext(ctx, user.ID)
		ctx = utils.SetUsernameInContext(ctx, user.Username)
		ctx = utils.SetUserNameInContext(ctx, user.Name)
		ctx = utils.SetBusinessIdInContext(ctx, user.BusinessId)

		if user.BusinessId != "" {
			var business models.Business
			exists, err := config.GetRedisObject("Business:"+user.BusinessId, &business)
			if err != nil || !exists {
				db := config.GetDB()
				if db != nil && db.WithContext(ctx).
					Where("id = ?", user.BusinessId).Take(&business).Error == nil {
					_ = config.SetRedisObject("Business:"+user.BusinessId, &business, utils.GetCacheLifespan())
					exists = true
				}
			}
			if exists {
				ctx = utils.SetIsBusinessAdminInContext(ctx, business.AdminUserId == user.ID)
			}
		}

		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RequireAuth rejects requests that did not present a valid session.
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := utils.GetUserIdFromContext(c.Request.Context()); !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// RequireBusiness additionally demands a business membership.
func RequireBusiness() gin.HandlerFunc {
	return func(c *gin.Context) {
		businessId, ok := utils.GetBusinessIdFromContext(c.Request.Context())
		if !ok || businessId == "" {
			c.JSON(http.StatusForbidden, gin.H{"error": "business membership required"})
			c.Abort()
			return
		}
		c.Next()
	}
}
