package socsync

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/hr_sync_backend/config"
	"bitbucket.org/mmdatafocus/hr_sync_backend/utils"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

func TriggerSyncHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		owner, err := resolveOwner(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		var req StartRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, SyncResponse{Success: false, Error: "invalid request"})
			return
		}

		run, err := svc.Start(c.Request.Context(), owner, req)
		if err != nil {
			writeServiceError(c, svc, err)
			return
		}
		c.JSON(http.StatusAccepted, SyncResponse{
			Success: true,
			SyncId:  run.ID,
			Status:  run.Status,
			Message: run.Message,
		})
	}
}

func CancelSyncHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		owner, err := resolveOwner(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		id, err := parseRunID(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, SyncResponse{Success: false, Error: err.Error()})
			return
		}

		var req CancelRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, SyncResponse{Success: false, Error: "invalid request"})
				return
			}
		}

		run, err := svc.Cancel(c.Request.Context(), owner, id, req.Force)
		if err != nil {
			writeServiceError(c, svc, err)
			return
		}
		c.JSON(http.StatusOK, SyncResponse{
			Success: true,
			SyncId:  run.ID,
			Status:  run.Status,
			Message: run.Message,
		})
	}
}

func SyncStatusHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		owner, err := resolveOwner(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		id, err := parseRunID(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		run, err := svc.Status(c.Request.Context(), owner, id)
		if err != nil {
			writeServiceError(c, svc, err)
			return
		}
		c.JSON(http.StatusOK, mapRunToResponse(*run))
	}
}

func SyncHistoryHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		owner, err := resolveOwner(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		limit := 50
		if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
			if v, err := strconv.Atoi(raw); err == nil {
				limit = v
			}
		}
		kind := strings.ToLower(strings.TrimSpace(c.Query("type")))

		runs, err := svc.History(c.Request.Context(), owner, kind, limit)
		if err != nil {
			writeServiceError(c, svc, err)
			return
		}
		items := make([]SyncRunResponse, 0, len(runs))
		for _, run := range runs {
			items = append(items, mapRunToResponse(run))
		}
		c.JSON(http.StatusOK, SyncHistoryResponse{Items: items})
	}
}

// SyncErrorsReportHandler streams the per-record error log of a run as XLSX.
func SyncErrorsReportHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		owner, err := resolveOwner(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		id, err := parseRunID(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		run, records, err := svc.RecordErrors(c.Request.Context(), owner, id)
		if err != nil {
			writeServiceError(c, svc, err)
			return
		}
		f, err := BuildErrorReport(*run, records)
		if err != nil {
			writeServiceError(c, svc, err)
			return
		}
		defer func() { _ = f.Close() }()

		c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="soc-sync-%d-errors.xlsx"`, run.ID))
		c.Status(http.StatusOK)
		if err := f.Write(c.Writer); err != nil {
			config.LogError(svc.Logger, "socsync", "SyncErrorsReportHandler", "write xlsx", logrus.Fields{"run_id": run.ID}, err)
		}
	}
}

func SaveCredentialsHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		owner, err := resolveOwner(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		var req CredentialsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "fields": utils.ProcessValidationErrors(err)})
			return
		}

		cred, err := SaveCredentials(c.Request.Context(), svc.DB, owner, req)
		if err != nil {
			writeServiceError(c, svc, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "credentials": cred})
	}
}

// resolveOwner reads the owner set by the session or auth middleware.
// Admins may act on behalf of another owner with ?owner=.
func resolveOwner(c *gin.Context) (string, error) {
	ctx := c.Request.Context()
	if isAdmin, _ := utils.GetIsAdminFromContext(ctx); isAdmin {
		if target := strings.TrimSpace(c.Query("owner")); target != "" {
			c.Request = c.Request.WithContext(utils.SetOwnerInContext(ctx, target))
			return target, nil
		}
	}
	owner, ok := utils.GetOwnerFromContext(ctx)
	owner = strings.TrimSpace(owner)
	if !ok || owner == "" {
		return "", errors.New("unauthorized")
	}
	return owner, nil
}

func parseRunID(c *gin.Context) (uint, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return 0, errors.New("invalid sync id")
	}
	return uint(id), nil
}

func writeServiceError(c *gin.Context, svc *Service, err error) {
	var running *AlreadyRunningError
	var cfgErr *ConfigurationError

	switch {
	case errors.As(err, &running):
		c.JSON(http.StatusConflict, SyncResponse{
			Success: false,
			SyncId:  running.RunID,
			Status:  running.Status,
			Message: "A sync of this type is already running",
			Error:   err.Error(),
		})
	case errors.As(err, &cfgErr):
		c.JSON(http.StatusPreconditionFailed, SyncResponse{Success: false, Error: err.Error()})
	case errors.Is(err, ErrInvalidKind), errors.Is(err, ErrInvalidRequest):
		c.JSON(http.StatusBadRequest, SyncResponse{Success: false, Error: err.Error()})
	case errors.Is(err, ErrRunNotFound):
		c.JSON(http.StatusNotFound, SyncResponse{Success: false, Error: err.Error()})
	case errors.Is(err, ErrInvalidTransition):
		c.JSON(http.StatusConflict, SyncResponse{Success: false, Error: err.Error()})
	default:
		cid, _ := utils.GetCorrelationIdFromContext(c.Request.Context())
		config.LogError(svc.Logger, "socsync", c.HandlerName(), c.Request.URL.Path, logrus.Fields{"correlation_id": cid}, err)
		c.JSON(http.StatusInternalServerError, SyncResponse{Success: false, Error: "internal error"})
	}
}

func formatTime(t *time.Time) *string {
	if t == nil || t.IsZero() {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}
