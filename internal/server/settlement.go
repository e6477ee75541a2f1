package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	settlementdomain "github.com/railzwaylabs/revshare/internal/settlement/domain"
)

type closeDayRequest struct {
	PeriodStart *time.Time `json:"period_start"`
	PeriodEnd   *time.Time `json:"period_end"`
	DryRun      bool       `json:"dry_run"`
}

// CloseDay queues the settlement of one period. An empty body settles the
// previous UTC day.
func (s *Server) CloseDay(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	var req closeDayRequest
	if len(bytes.TrimSpace(body)) > 0 {
		dec := json.NewDecoder(bytes.NewReader(body))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			AbortWithError(c, newValidationError("body", err.Error()))
			return
		}
	}

	resp, err := s.settlementSvc.RequestCloseDay(c.Request.Context(), settlementdomain.CloseDayRequest{
		PeriodStart: req.PeriodStart,
		PeriodEnd:   req.PeriodEnd,
		DryRun:      req.DryRun,
	})
	if err != nil {
		if errors.Is(err, settlementdomain.ErrRunAlreadyExists) && resp != nil {
			_ = c.Error(err)
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{
				"error": errorBody{Type: settlementdomain.ErrRunAlreadyExists.Error(), Message: "settlement already exists"},
				"data":  resp,
			})
			return
		}
		AbortWithError(c, err)
		return
	}

	respondAccepted(c, resp)
}

func (s *Server) GetRun(c *gin.Context) {
	id, err := snowflake.ParseString(strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid run id"))
		return
	}

	detail, err := s.settlementSvc.GetRun(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, detail)
}

func (s *Server) ListRuns(c *gin.Context) {
	limit, offset, err := parsePaging(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	status := settlementdomain.RunStatus(strings.ToUpper(strings.TrimSpace(c.Query("status"))))
	switch status {
	case "", settlementdomain.RunStatusDraft, settlementdomain.RunStatusFinalized,
		settlementdomain.RunStatusPaid, settlementdomain.RunStatusPartial:
	default:
		AbortWithError(c, newValidationError("status", "unknown run status"))
		return
	}

	resp, err := s.settlementSvc.ListRuns(c.Request.Context(), settlementdomain.ListRunsRequest{
		Status: status,
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondList(c, resp.Runs, &pageInfo{Total: resp.Total, Limit: resp.Limit, Offset: resp.Offset})
}

func parsePaging(c *gin.Context) (int, int, error) {
	limit, err := queryInt(c, "limit")
	if err != nil {
		return 0, 0, err
	}
	offset, err := queryInt(c, "offset")
	if err != nil {
		return 0, 0, err
	}
	return limit, offset, nil
}

func queryInt(c *gin.Context, name string) (int, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, newValidationError(name, "must be a non-negative integer")
	}
	return v, nil
}

func queryID(c *gin.Context, name string) (*snowflake.ID, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return nil, nil
	}
	id, err := snowflake.ParseString(raw)
	if err != nil {
		return nil, newValidationError(name, "invalid id")
	}
	return &id, nil
}
