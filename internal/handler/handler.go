package handler

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/blocklive/stagefun-sub002/internal/blockchain"
	"github.com/blocklive/stagefun-sub002/internal/models"
	"github.com/blocklive/stagefun-sub002/internal/service"
)

type Ingestor interface {
	Process(ctx context.Context, batch service.Batch) (*service.Summary, error)
}

type Backfiller interface {
	Backfill(ctx context.Context, from, to int64) error
}

type PointsReader interface {
	Summary(ctx context.Context, address string, recent int) (*service.PointsSummary, error)
	Leaderboard(ctx context.Context, limit int) ([]models.UserPoints, error)
	CheckIn(ctx context.Context, address string) (*service.CheckinResult, error)
	AwardOnboarding(ctx context.Context, address string) (*service.AwardResult, error)
	GrantReferral(ctx context.Context, referrer, referred, pool string, ttl time.Duration) (*models.ReferralGrant, error)
	SelectNFT(ctx context.Context, address, collection string) error
}

type SyncRunLister interface {
	Recent(ctx context.Context, jobName string, limit int) ([]models.SyncRun, error)
}

type Reconciler interface {
	CheckUser(ctx context.Context, address string) (*service.ReconcileReport, error)
	CheckPool(ctx context.Context, address string) (*service.ReconcileReport, error)
}

type Handler struct {
	ingestor    Ingestor
	points      PointsReader
	runs        SyncRunLister
	reconciler  Reconciler
	backfillers map[string]Backfiller
}

func New(ingestor Ingestor, points PointsReader, runs SyncRunLister, reconciler Reconciler, backfillers map[string]Backfiller) *Handler {
	if backfillers == nil {
		backfillers = map[string]Backfiller{}
	}
	return &Handler{
		ingestor:    ingestor,
		points:      points,
		runs:        runs,
		reconciler:  reconciler,
		backfillers: backfillers,
	}
}

// Router builds the gin engine with every route mounted. An empty origin list or "*" allows any origin.
func (h *Handler) Router(allowedOrigins []string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), corsMiddleware(allowedOrigins), timingMiddleware())

	r.GET("/health", h.Health)

	api := r.Group("/api")
	{
		api.POST("/webhook/events", h.IngestEvents)

		points := api.Group("/points")
		{
			points.GET("/:address", h.GetPoints)
			points.POST("/checkin", h.CheckIn)
			points.POST("/onboarding", h.Onboarding)
			points.POST("/nft", h.SelectNFT)
		}
		api.GET("/leaderboard", h.Leaderboard)
		api.POST("/referrals", h.CreateReferral)
		api.GET("/sync-runs", h.ListSyncRuns)

		admin := api.Group("/admin")
		{
			admin.POST("/backfill", h.Backfill)
			admin.GET("/reconcile/users/:address", h.ReconcileUser)
			admin.GET("/reconcile/pools/:address", h.ReconcilePool)
		}
	}
	return r
}

func (h *Handler) Health(c *gin.Context) {
	success(c, gin.H{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)})
}

type ingestRequest struct {
	Logs []blockchain.RawLog `json:"logs"`
}

// IngestEvents accepts a webhook delivery of raw logs.
func (h *Handler) IngestEvents(c *gin.Context) {
	network := c.Query("network")
	if network == "" {
		invalidParam(c, "network is required")
		return
	}
	source := c.DefaultQuery("source", service.SourceWebhook)

	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidParam(c, "invalid body: "+err.Error())
		return
	}

	summary, err := h.ingestor.Process(c.Request.Context(), service.Batch{
		Network: network,
		Source:  source,
		Logs:    req.Logs,
	})
	if err != nil {
		failWith(c, err)
		return
	}
	success(c, summary)
}

func validAddress(c *gin.Context, address, field string) bool {
	if !common.IsHexAddress(address) {
		invalidParam(c, fmt.Sprintf("%s must be a hex address", field))
		return false
	}
	return true
}

func (h *Handler) GetPoints(c *gin.Context) {
	address := c.Param("address")
	if !validAddress(c, address, "address") {
		return
	}
	recent, _ := strconv.Atoi(c.DefaultQuery("recent", "20"))
	if recent < 0 || recent > 100 {
		recent = 20
	}

	summary, err := h.points.Summary(c.Request.Context(), address, recent)
	if err != nil {
		failWith(c, err)
		return
	}
	success(c, summary)
}

type addressRequest struct {
	Address string `json:"address" binding:"required"`
}

func (h *Handler) CheckIn(c *gin.Context) {
	var req addressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidParam(c, "address is required")
		return
	}
	if !validAddress(c, req.Address, "address") {
		return
	}

	result, err := h.points.CheckIn(c.Request.Context(), req.Address)
	if err != nil {
		failWith(c, err)
		return
	}
	success(c, result)
}

func (h *Handler) Onboarding(c *gin.Context) {
	var req addressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidParam(c, "address is required")
		return
	}
	if !validAddress(c, req.Address, "address") {
		return
	}

	result, err := h.points.AwardOnboarding(c.Request.Context(), req.Address)
	if err != nil {
		failWith(c, err)
		return
	}
	success(c, gin.H{"awarded": result.Awarded, "duplicate": result.Duplicate})
}

type nftRequest struct {
	Address    string `json:"address" binding:"required"`
	Collection string `json:"collection" binding:"required"`
}

func (h *Handler) SelectNFT(c *gin.Context) {
	var req nftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidParam(c, "address and collection are required")
		return
	}
	if !validAddress(c, req.Address, "address") || !validAddress(c, req.Collection, "collection") {
		return
	}

	if err := h.points.SelectNFT(c.Request.Context(), req.Address, req.Collection); err != nil {
		failWith(c, err)
		return
	}
	success(c, nil)
}

func (h *Handler) Leaderboard(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	rows, err := h.points.Leaderboard(c.Request.Context(), limit)
	if err != nil {
		failWith(c, err)
		return
	}
	success(c, rows)
}

type referralRequest struct {
	Referrer string `json:"referrer" binding:"required"`
	Referred string `json:"referred" binding:"required"`
	Pool     string `json:"pool" binding:"required"`
	TTLHours int    `json:"ttlHours"`
}

func (h *Handler) CreateReferral(c *gin.Context) {
	var req referralRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidParam(c, "referrer, referred and pool are required")
		return
	}
	if !validAddress(c, req.Referrer, "referrer") ||
		!validAddress(c, req.Referred, "referred") ||
		!validAddress(c, req.Pool, "pool") {
		return
	}
	if req.TTLHours <= 0 {
		req.TTLHours = 72
	}

	grant, err := h.points.GrantReferral(c.Request.Context(), req.Referrer, req.Referred, req.Pool,
		time.Duration(req.TTLHours)*time.Hour)
	if err != nil {
		failWith(c, err)
		return
	}
	success(c, grant)
}

func (h *Handler) ListSyncRuns(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if limit <= 0 || limit > 200 {
		limit = 20
	}

	runs, err := h.runs.Recent(c.Request.Context(), c.Query("job"), limit)
	if err != nil {
		failWith(c, err)
		return
	}
	success(c, runs)
}

type backfillRequest struct {
	Network string `json:"network" binding:"required"`
	From    int64  `json:"from"`
	To      int64  `json:"to"`
}

func (h *Handler) Backfill(c *gin.Context) {
	var req backfillRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidParam(c, "network is required")
		return
	}
	b, ok := h.backfillers[req.Network]
	if !ok {
		fail(c, http.StatusNotFound, CodeNotFound, fmt.Sprintf("network %s is not polled", req.Network))
		return
	}

	if err := b.Backfill(c.Request.Context(), req.From, req.To); err != nil {
		failWith(c, err)
		return
	}
	success(c, gin.H{"network": req.Network, "from": req.From, "to": req.To})
}

func (h *Handler) ReconcileUser(c *gin.Context) {
	address := c.Param("address")
	if !validAddress(c, address, "address") {
		return
	}
	report, err := h.reconciler.CheckUser(c.Request.Context(), address)
	if err != nil {
		failWith(c, err)
		return
	}
	success(c, gin.H{"consistent": report.Consistent(), "report": report})
}

func (h *Handler) ReconcilePool(c *gin.Context) {
	address := c.Param("address")
	if !validAddress(c, address, "address") {
		return
	}
	report, err := h.reconciler.CheckPool(c.Request.Context(), address)
	if err != nil {
		failWith(c, err)
		return
	}
	success(c, gin.H{"consistent": report.Consistent(), "report": report})
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Content-Length", "Accept", "Authorization", "X-Requested-With"},
		ExposeHeaders: []string{"Content-Length", "Content-Type"},
		MaxAge:        12 * time.Hour,
	}
	allowAll := len(origins) == 0
	for _, o := range origins {
		if o == "*" {
			allowAll = true
		}
	}
	if allowAll {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cors.New(cfg)
}
