package handlers

import (
	"errors"
	"net/http"
	"os"

	"offer-allocation/internal/analysis"
	"offer-allocation/internal/api/models"
	"offer-allocation/internal/config"
	"offer-allocation/internal/data"
	"offer-allocation/internal/logging"
	"offer-allocation/internal/model"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// OfferHandler serves offer screening and reference data
type OfferHandler struct {
	cfg   *config.Config
	feeds *feedLoader
	log   logrus.FieldLogger
}

func NewOfferHandler(cfg *config.Config, client *data.FeedClient, log logrus.FieldLogger) *OfferHandler {
	log = logging.OrDiscard(log).WithField("component", "api")
	return &OfferHandler{cfg: cfg, feeds: &feedLoader{cfg: cfg, client: client, log: log}, log: log}
}

// Stats handles POST /api/v1/offers/stats. It ranks offers in merit order
// without running an allocation.
func (h *OfferHandler) Stats(c *gin.Context) {
	var req models.StatsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
		return
	}

	feed, err := h.feeds.load(c.Request.Context(), req.APIKey, req.Feed, req.Source)
	if err != nil {
		writeFeedError(c, err)
		return
	}
	snap, err := model.NewSnapshot(feed, h.log)
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_FEED", err.Error(), nil)
		return
	}

	ranked := analysis.RankByMeritOrder(snap)
	if req.Limit > 0 && req.Limit < len(ranked) {
		ranked = ranked[:req.Limit]
	}
	c.JSON(http.StatusOK, models.StatsResponse{Rankings: ranked, Issues: snap.Issues})
}

// Catalog handles GET /api/v1/offers/catalog
func (h *OfferHandler) Catalog(c *gin.Context) {
	path := h.cfg.Feed.CatalogFile
	if path == "" {
		path = data.GetDefaultCatalogPath()
	}

	cat, err := data.LoadCatalog(path)
	if err != nil {
		// A missing catalog is an empty one.
		if errors.Is(err, os.ErrNotExist) {
			c.JSON(http.StatusOK, gin.H{"offers": []data.CatalogEntry{}, "count": 0})
			return
		}
		writeError(c, http.StatusInternalServerError, "CATALOG_LOAD_ERROR", err.Error(), nil)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"dataset":    cat.Dataset,
		"offers":     cat.Offers,
		"updated_at": cat.UpdatedAt,
		"count":      len(cat.Offers),
	})
}
