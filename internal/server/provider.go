package server

import (
	"io"

	"github.com/gin-gonic/gin"
)

type webhookAck struct {
	Received bool   `json:"received"`
	PayoutID string `json:"payout_id"`
	Status   string `json:"status"`
}

// ProviderWebhook hands the untouched body to reconciliation; signatures are
// computed over the exact bytes the provider sent.
func (s *Server) ProviderWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	payout, err := s.webhookSvc.IngestWebhook(c.Request.Context(), c.Param("name"), body, c.Request.Header)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	respondData(c, webhookAck{
		Received: true,
		PayoutID: payout.ID.String(),
		Status:   string(payout.Status),
	})
}

func (s *Server) ProviderStatus(c *gin.Context) {
	stats, err := s.payoutSvc.ProviderStats(c.Request.Context(), c.Param("name"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, stats)
}
