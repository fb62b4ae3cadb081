package api

import (
	"net/http"

	"offer-allocation/internal/api/handlers"
	"offer-allocation/internal/api/middleware"
	"offer-allocation/internal/config"
	"offer-allocation/internal/data"
	"offer-allocation/internal/recorder"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Deps are the shared services behind the HTTP handlers. Client and
// Recorder may be nil.
type Deps struct {
	Config   *config.Config
	Client   *data.FeedClient
	Recorder recorder.Recorder
	Store    *handlers.RunStore
	Log      logrus.FieldLogger
	Origins  []string
}

// NewRouter builds the gin engine with every route under /api/v1.
func NewRouter(d Deps) *gin.Engine {
	router := gin.New()
	router.Use(middleware.ErrorHandler(d.Log))
	router.Use(middleware.CORS(d.Origins...))
	router.Use(middleware.Logger(d.Log))

	allocation := handlers.NewAllocationHandler(d.Config, d.Client, d.Store, d.Recorder, d.Log)
	offers := handlers.NewOfferHandler(d.Config, d.Client, d.Log)
	modes := handlers.NewModeHandler(d.Config)
	runs := handlers.NewRunHandler(d.Recorder)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api/v1")
	{
		api.POST("/allocate", allocation.Allocate)
		api.POST("/allocate/compare", allocation.Compare)
		api.GET("/allocate/:id", allocation.GetRun)
		api.GET("/allocate/:id/tables", allocation.GetTables)

		api.POST("/offers/stats", offers.Stats)
		api.GET("/offers/catalog", offers.Catalog)

		api.GET("/modes", modes.ListModes)
		api.GET("/runs", runs.ListRuns)
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": gin.H{"code": "NOT_FOUND", "message": "Not found"}})
	})
	return router
}
