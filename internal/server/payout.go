package server

import (
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	payoutdomain "github.com/railzwaylabs/revshare/internal/payout/domain"
)

func (s *Server) ListPayouts(c *gin.Context) {
	limit, offset, err := parsePaging(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	investorID, err := queryID(c, "investor_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	runID, err := queryID(c, "run_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.payoutSvc.List(c.Request.Context(), payoutdomain.ListFilter{
		InvestorID: investorID,
		RunID:      runID,
		Status:     payoutdomain.Status(strings.ToUpper(strings.TrimSpace(c.Query("status")))),
		Provider:   strings.TrimSpace(c.Query("provider")),
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondList(c, resp.Payouts, &pageInfo{Total: resp.Total, Limit: resp.Limit, Offset: resp.Offset})
}

func (s *Server) GetPayout(c *gin.Context) {
	id, ok := payoutIDParam(c)
	if !ok {
		return
	}

	payout, err := s.payoutSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, payout)
}

// RetryPayout re-enqueues a non-settled instruction under its original
// idempotency key.
func (s *Server) RetryPayout(c *gin.Context) {
	id, ok := payoutIDParam(c)
	if !ok {
		return
	}

	resp, err := s.payoutSvc.Retry(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondAccepted(c, resp)
}

func payoutIDParam(c *gin.Context) (snowflake.ID, bool) {
	id, err := snowflake.ParseString(strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid payout id"))
		return 0, false
	}
	return id, true
}
