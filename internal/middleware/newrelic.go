package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
)

// NewRelicAttributes tags the transaction started by nrgin with the ride and
// driver from the path, so traces can be searched by ride. It must run after
// nrgin.Middleware and is a no-op when no transaction exists.
func NewRelicAttributes() gin.HandlerFunc {
	return func(c *gin.Context) {
		txn := nrgin.Transaction(c)
		if txn == nil {
			c.Next()
			return
		}

		if id := c.Param("rideId"); id != "" {
			txn.AddAttribute("ride_id", id)
		}
		if id := c.Param("id"); id != "" {
			txn.AddAttribute("entity_id", id)
		}

		c.Next()

		for _, err := range c.Errors {
			txn.NoticeError(err.Err)
		}
	}
}
