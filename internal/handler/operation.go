package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/aman-churiwal/velero-api/internal/auth"
	"github.com/aman-churiwal/velero-api/internal/operation"
)

// Operation serves op over HTTP. Query parameters and path parameters are
// passed as params, path parameters winning.
func Operation(op operation.Operation) gin.HandlerFunc {
	return func(c *gin.Context) {
		params := make(map[string]string)
		for name, values := range c.Request.URL.Query() {
			if len(values) > 0 && name != "token" {
				params[name] = values[0]
			}
		}
		for _, p := range c.Params {
			params[p.Key] = p.Value
		}

		resp := op.Invoke(c.Request.Context(), operation.Request{
			Params:    params,
			Principal: auth.FromContext(c.Request.Context()),
		})
		c.Data(resp.Status, "application/json; charset=utf-8", resp.Body)
	}
}
