package ports

import (
	"github.com/gin-gonic/gin"
)

type HTTPHandler interface {
	ListPeers(c *gin.Context)
	ListSlots(c *gin.Context)
	GetSlotFrame(c *gin.Context)
	PostCommand(c *gin.Context)
	PostFrame(c *gin.Context)
	GetStats(c *gin.Context)
}
