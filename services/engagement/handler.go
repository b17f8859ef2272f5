package engagement

import (
	"net/http"
	"strconv"

	"testerhub-engagement/pkg/db/pagination"
	"testerhub-engagement/pkg/errutil"
	"testerhub-engagement/services/point"

	"github.com/gin-gonic/gin"
)

const testerHeader = "X-Tester-ID"

type Handler struct {
	service *Service
	points  *point.Service
}

func NewHandler(svc *Service, points *point.Service) *Handler {
	return &Handler{service: svc, points: points}
}

func registerRoutes(r *gin.Engine, h *Handler) {
	v1 := r.Group("/v1")

	campaigns := v1.Group("/campaigns/:campaign_id")
	campaigns.POST("/check-ins", h.RecordCheckIn)
	campaigns.GET("/status", h.GetTesterStatus)
	campaigns.GET("/enrollments/:tester_id", h.GetEnrollment)
	campaigns.POST("/join", h.Join)
	campaigns.POST("/leave", h.Leave)

	testers := v1.Group("/testers/:tester_id")
	testers.GET("/pending", h.PendingToday)
	testers.GET("/campaigns", h.ListMyCampaigns)
	testers.GET("/points", h.GetBalance)
	testers.GET("/points/history", h.ListPointHistory)
	testers.POST("/points/spend", h.SpendPoints)
	testers.GET("/points/verify", h.VerifyTester)
}

func testerFromHeader(c *gin.Context) (string, bool) {
	id := c.GetHeader(testerHeader)
	if id == "" {
		_ = c.Error(errutil.Unauthorized("missing "+testerHeader+" header", nil))
		return "", false
	}
	return id, true
}

// pathTesterFromHeader returns the :tester_id of the route when it is the
// caller named in the header. Mutations on another tester are forbidden.
func pathTesterFromHeader(c *gin.Context) (string, bool) {
	caller, ok := testerFromHeader(c)
	if !ok {
		return "", false
	}
	if caller != c.Param("tester_id") {
		_ = c.Error(errutil.Forbidden("cannot act on another tester", nil, errutil.WithReason("tester_mismatch")))
		return "", false
	}
	return caller, true
}

// RecordCheckIn handles POST /v1/campaigns/:campaign_id/check-ins
func (h *Handler) RecordCheckIn(c *gin.Context) {
	testerID, ok := testerFromHeader(c)
	if !ok {
		return
	}

	ci, err := h.service.RecordCheckIn(c.Request.Context(), c.Param("campaign_id"), testerID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, ci)
}

// GetTesterStatus handles GET /v1/campaigns/:campaign_id/status
func (h *Handler) GetTesterStatus(c *gin.Context) {
	status, err := h.service.GetTesterStatus(c.Request.Context(), c.Param("campaign_id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (h *Handler) GetEnrollment(c *gin.Context) {
	e, err := h.service.GetEnrollment(c.Request.Context(), c.Param("campaign_id"), c.Param("tester_id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, e)
}

func (h *Handler) Join(c *gin.Context) {
	testerID, ok := testerFromHeader(c)
	if !ok {
		return
	}

	e, err := h.service.Join(c.Request.Context(), c.Param("campaign_id"), testerID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, e)
}

func (h *Handler) Leave(c *gin.Context) {
	testerID, ok := testerFromHeader(c)
	if !ok {
		return
	}

	e, err := h.service.Leave(c.Request.Context(), c.Param("campaign_id"), testerID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, e)
}

func (h *Handler) PendingToday(c *gin.Context) {
	pending, err := h.service.PendingToday(c.Request.Context(), c.Param("tester_id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": pending})
}

func (h *Handler) ListMyCampaigns(c *gin.Context) {
	list, err := h.service.ListMyCampaigns(c.Request.Context(), c.Param("tester_id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": list})
}

func (h *Handler) GetBalance(c *gin.Context) {
	b, err := h.points.GetBalance(c.Request.Context(), c.Param("tester_id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, b)
}

// ListPointHistory handles GET /v1/testers/:tester_id/points/history?cursor=&limit=
func (h *Handler) ListPointHistory(c *gin.Context) {
	page := pagination.Pagination{Cursor: c.Query("cursor")}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			_ = c.Error(errutil.BadRequest("limit must be an integer", err))
			return
		}
		page.Limit = limit
	}

	items, info, err := h.points.ListHistory(c.Request.Context(), c.Param("tester_id"), page)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": items, "page_info": info})
}

type spendRequest struct {
	Amount int64  `json:"amount" binding:"required,min=1"`
	Reason string `json:"reason" binding:"required"`
}

// SpendPoints handles POST /v1/testers/:tester_id/points/spend
func (h *Handler) SpendPoints(c *gin.Context) {
	testerID, ok := pathTesterFromHeader(c)
	if !ok {
		return
	}

	var req spendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid spend request", err))
		return
	}

	entry, err := h.points.Spend(c.Request.Context(), testerID, req.Amount, req.Reason)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, entry)
}

func (h *Handler) VerifyTester(c *gin.Context) {
	if err := h.service.VerifyTester(c.Request.Context(), c.Param("tester_id")); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
