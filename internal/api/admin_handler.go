package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/budapestdude/chess-calendar/internal/backup"
	"github.com/budapestdude/chess-calendar/internal/exporter"
	"github.com/budapestdude/chess-calendar/internal/importer"
	"github.com/budapestdude/chess-calendar/internal/repository"
	"github.com/budapestdude/chess-calendar/internal/service"
)

// AdminHandler serves the token-protected maintenance endpoints: backups,
// duplicate cleanup, export trigger and CSV imports.
type AdminHandler struct {
	backups  *backup.Manager
	dedup    *service.DedupService
	exporter *exporter.Exporter
	importer *importer.Importer
	reports  repository.ReportRepository
	logger   *logrus.Logger
}

// NewAdminHandler creates the admin handler. All collaborators are built by
// the caller; only the report repository is derived from db here.
func NewAdminHandler(db *gorm.DB, backups *backup.Manager, dedup *service.DedupService, exp *exporter.Exporter, imp *importer.Importer, logger *logrus.Logger) *AdminHandler {
	return &AdminHandler{
		backups:  backups,
		dedup:    dedup,
		exporter: exp,
		importer: imp,
		reports:  repository.NewReportRepository(db),
		logger:   logger,
	}
}

// CreateBackup take a snapshot now
// POST /api/admin/backups?reason=manual
func (h *AdminHandler) CreateBackup(c *gin.Context) {
	reason := c.DefaultQuery("reason", "manual")
	info, err := h.backups.Create(c.Request.Context(), reason)
	if err != nil {
		respondError(c, h.logger, "CreateBackup", err)
		return
	}
	c.JSON(http.StatusCreated, info)
}

// ListBackups list snapshots, newest first
// GET /api/admin/backups
func (h *AdminHandler) ListBackups(c *gin.Context) {
	infos, err := h.backups.List(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, "ListBackups", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"backups": infos, "count": len(infos)})
}

// RestoreBackup replace the live data with a snapshot's content
// @Summary Restore a named backup
// @Param name path string true "snapshot filename"
// @Success 200 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Router /api/admin/backups/{name}/restore [post]
func (h *AdminHandler) RestoreBackup(c *gin.Context) {
	name := c.Param("name")
	if err := h.backups.Restore(c.Request.Context(), name); err != nil {
		respondError(c, h.logger, "RestoreBackup", err)
		return
	}
	h.exporter.Trigger()
	c.JSON(http.StatusOK, gin.H{"message": "backup restored", "name": name})
}

// DeleteBackup remove a snapshot and its metadata
// DELETE /api/admin/backups/:name
func (h *AdminHandler) DeleteBackup(c *gin.Context) {
	name := c.Param("name")
	if err := h.backups.Delete(c.Request.Context(), name); err != nil {
		respondError(c, h.logger, "DeleteBackup", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "backup deleted", "name": name})
}

// ListDuplicates report duplicate clusters without touching them
// GET /api/admin/duplicates
func (h *AdminHandler) ListDuplicates(c *gin.Context) {
	groups, err := h.dedup.FindDuplicates(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, "ListDuplicates", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"groups": groups, "count": len(groups)})
}

// DeleteDuplicates remove redundant cluster members, backup first
// POST /api/admin/duplicates/delete?mode=auto
func (h *AdminHandler) DeleteDuplicates(c *gin.Context) {
	mode := c.DefaultQuery("mode", "auto")
	removed, backupName, err := h.dedup.DeleteDuplicates(c.Request.Context(), mode)
	if err != nil {
		respondError(c, h.logger, "DeleteDuplicates", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": removed, "backup": backupName})
}

// TriggerExport schedule a projection rebuild
// POST /api/admin/export
func (h *AdminHandler) TriggerExport(c *gin.Context) {
	h.exporter.Trigger()
	c.JSON(http.StatusAccepted, gin.H{"message": "export scheduled"})
}

// ImportRequest is the RunImport body.
type ImportRequest struct {
	Source string `json:"source"` // local path or http(s) URL of a CSV feed
}

// RunImport ingest a CSV feed synchronously and return its report
// POST /api/admin/import
func (h *AdminHandler) RunImport(c *gin.Context) {
	var req ImportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	if req.Source == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "source is required"})
		return
	}
	report, err := h.importer.Run(c.Request.Context(), req.Source)
	if err != nil {
		respondError(c, h.logger, "RunImport", err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// ListImports recent import reports
// GET /api/admin/imports?limit=50
func (h *AdminHandler) ListImports(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	reports, err := h.reports.ListRecent(c.Request.Context(), limit)
	if err != nil {
		respondError(c, h.logger, "ListImports", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reports": reports, "count": len(reports)})
}
