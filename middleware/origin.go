package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// Origin rejects browser requests under prefix whose Origin header is not
// in allowed. Requests without an Origin header are not from a browser and
// pass. An empty allowed list lets everything through.
func Origin(prefix string, allowed []string) gin.HandlerFunc {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[strings.TrimRight(strings.ToLower(o), "/")] = struct{}{}
	}
	return func(c *gin.Context) {
		if len(set) == 0 || !strings.HasPrefix(c.Request.URL.Path, prefix) {
			return
		}
		origin := c.GetHeader("Origin")
		if origin == "" {
			return
		}
		if _, ok := set[strings.TrimRight(strings.ToLower(origin), "/")]; !ok {
			c.AbortWithStatus(http.StatusForbidden)
		}
	}
}
