package middleware

import (
	"fmt"
	"net/http"

	"offer-allocation/internal/api/models"
	"offer-allocation/internal/logging"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// ErrorHandler recovers handler panics into an INTERNAL_ERROR body.
func ErrorHandler(log logrus.FieldLogger) gin.HandlerFunc {
	log = logging.OrDiscard(log).WithField("component", "api")
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		log.WithField("panic", fmt.Sprint(recovered)).WithField("path", c.Request.URL.Path).Error("handler panic")

		msg := "An unexpected error occurred"
		if s, ok := recovered.(string); ok {
			msg = s
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, models.ErrorResponse{
			Error: models.ErrorDetail{
				Code:    "INTERNAL_ERROR",
				Message: msg,
			},
		})
	})
}
