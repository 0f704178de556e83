package api

import (
	"io"

	"github.com/gin-gonic/gin"

	"github.com/linkdex/linkdex/internal/events"
)

// EventsHandler streams import progress events to the client over SSE.
func EventsHandler(hub *events.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")

		ch, unsubscribe := hub.Subscribe()
		defer unsubscribe()

		clientGone := c.Request.Context().Done()
		c.Stream(func(w io.Writer) bool {
			select {
			case <-clientGone:
				return false
			case event, ok := <-ch:
				if !ok {
					return false
				}
				c.SSEvent(string(event.Type), event)
				return true
			}
		})
	}
}
