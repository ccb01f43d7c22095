package handler

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/marbindrakon/simple-aircraft-manager-sub000/internal/api/dto"
	"github.com/marbindrakon/simple-aircraft-manager-sub000/internal/importer/domain"
	"github.com/marbindrakon/simple-aircraft-manager-sub000/internal/importer/job"
	"github.com/marbindrakon/simple-aircraft-manager-sub000/internal/importer/pipeline"
	"github.com/marbindrakon/simple-aircraft-manager-sub000/internal/importer/upload"
	"github.com/marbindrakon/simple-aircraft-manager-sub000/internal/store"
)

// SubmitImport handles POST /api/v1/imports
// Accepts page images (or a zip archive) for an existing aircraft and
// starts a background import job.
func (h *ImportHandler) SubmitImport(c *gin.Context) {
	h.logger.Info("SubmitImport called",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
	)
	h.limitBody(c)

	aircraftID := c.PostForm("aircraft_id")
	if aircraftID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "aircraft_id is required",
		})
		return
	}

	if _, err := h.records.AircraftByID(c.Request.Context(), aircraftID); err != nil {
		if errors.Is(err, store.ErrAircraftNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "aircraft not found",
			})
			return
		}
		h.logger.Error("Failed to look up aircraft", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to look up aircraft",
		})
		return
	}

	h.startImport(c, aircraftID)
}

// SubmitAircraftImport handles POST /api/v1/imports/aircraft
// Whole-record variant: creates (or, with override, reuses) the aircraft
// named by tail_number, then starts the import against it.
func (h *ImportHandler) SubmitAircraftImport(c *gin.Context) {
	h.logger.Info("SubmitAircraftImport called",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
	)
	h.limitBody(c)

	tailNumber := strings.TrimSpace(c.PostForm("tail_number"))
	if tailNumber == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "tail_number is required",
		})
		return
	}
	override := parseBool(c.PostForm("override"))

	var aircraftID string
	existing, err := h.records.AircraftByTailNumber(c.Request.Context(), tailNumber)
	switch {
	case err == nil:
		if !override {
			c.JSON(http.StatusConflict, dto.ConflictResponse{
				Error:      "aircraft with this tail number already exists",
				TailNumber: tailNumber,
				ExistingID: existing.ID,
			})
			return
		}
		aircraftID = existing.ID
	case errors.Is(err, store.ErrAircraftNotFound):
		aircraftID, err = h.records.CreateAircraft(c.Request.Context(), tailNumber, c.PostForm("make"), c.PostForm("model"))
		if err != nil {
			h.logger.Error("Failed to create aircraft", slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to create aircraft",
			})
			return
		}
	default:
		h.logger.Error("Failed to look up aircraft", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to look up aircraft",
		})
		return
	}

	h.startImport(c, aircraftID)
}

// GetImport handles GET /api/v1/imports/:job_id
// Returns the job status and the events after the caller's cursor.
func (h *ImportHandler) GetImport(c *gin.Context) {
	jobID := c.Param("job_id")

	after := int64(0)
	if raw := c.Query("after"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "after must be a non-negative integer",
			})
			return
		}
		after = parsed
	}

	snapshot, err := h.jobs.Snapshot(jobID, after)
	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "job not found",
			})
			return
		}
		h.logger.Error("Failed to read job", slog.String("job_id", jobID), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to read job",
		})
		return
	}

	c.JSON(http.StatusOK, dto.PollResponse{
		Status: snapshot.Status,
		Events: snapshot.Events,
		Result: snapshot.Result,
	})
}

// startImport parses the shared upload fields, submits the job, and
// writes the 202 response.
func (h *ImportHandler) startImport(c *gin.Context, aircraftID string) {
	pages, documentName, ok := h.parsePages(c)
	if !ok {
		return
	}

	providerName := c.PostForm("provider")
	if providerName == "" {
		providerName = h.importer.DefaultProvider
	}

	batchSize := h.importer.DefaultBatchSize
	if raw := c.PostForm("batch_size"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "batch_size must be a positive integer",
			})
			return
		}
		batchSize = parsed
	}
	if h.importer.MaxBatchSize > 0 && batchSize > h.importer.MaxBatchSize {
		batchSize = h.importer.MaxBatchSize
	}

	if name := c.PostForm("document_name"); name != "" {
		documentName = name
	}
	if documentName == "" {
		documentName = "logbook import " + time.Now().Format("2006-01-02")
	}

	jobID := h.orchestrator.Submit(pipeline.Request{
		Pages:        pages,
		BatchSize:    batchSize,
		Provider:     providerName,
		AircraftID:   aircraftID,
		DocumentName: documentName,
		UploadOnly:   parseBool(c.PostForm("upload_only")),
	})

	h.logger.Info("Import job accepted",
		slog.String("job_id", jobID),
		slog.String("aircraft_id", aircraftID),
		slog.Int("pages", len(pages)),
		slog.Int("batch_size", batchSize),
		slog.String("provider", providerName),
	)
	c.JSON(http.StatusAccepted, dto.SubmitResponse{JobID: jobID})
}

// parsePages reads the uploaded pages from either the "archive" zip or
// the repeated "pages" form files. The second return is a document name
// suggestion taken from the upload's filename.
func (h *ImportHandler) parsePages(c *gin.Context) ([]domain.Page, string, bool) {
	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "request must be multipart form data",
		})
		return nil, "", false
	}

	if archives := form.File["archive"]; len(archives) > 0 {
		data, err := readFile(archives[0])
		if err != nil {
			h.logger.Error("Failed to read archive", slog.String("error", err.Error()))
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Failed to read archive",
			})
			return nil, "", false
		}
		pages, err := upload.FromZip(data)
		if err != nil {
			if errors.Is(err, upload.ErrNoPages) {
				c.JSON(http.StatusBadRequest, gin.H{
					"error": "archive contains no page images",
				})
				return nil, "", false
			}
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "invalid zip archive",
			})
			return nil, "", false
		}
		if !h.checkPageCount(c, len(pages)) {
			return nil, "", false
		}
		return pages, trimExt(archives[0].Filename), true
	}

	headers := form.File["pages"]
	if len(headers) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "either pages or archive must be provided",
		})
		return nil, "", false
	}
	if !h.checkPageCount(c, len(headers)) {
		return nil, "", false
	}

	pages := make([]domain.Page, 0, len(headers))
	suggested := trimExt(headers[0].Filename)
	for _, header := range headers {
		contentType := upload.ContentTypeFor(header.Filename)
		if contentType == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": fmt.Sprintf("unsupported page file type: %s", header.Filename),
			})
			return nil, "", false
		}
		data, err := readFile(header)
		if err != nil {
			h.logger.Error("Failed to read page", slog.String("file", header.Filename), slog.String("error", err.Error()))
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Failed to read page " + header.Filename,
			})
			return nil, "", false
		}
		pages = append(pages, domain.Page{
			Name:        header.Filename,
			ContentType: contentType,
			Data:        data,
		})
	}
	return pages, suggested, true
}

func trimExt(name string) string {
	return strings.TrimSuffix(name, path.Ext(name))
}

// limitBody caps the request body before any form parsing touches it.
func (h *ImportHandler) limitBody(c *gin.Context) {
	if h.maxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)
	}
}

func (h *ImportHandler) checkPageCount(c *gin.Context, count int) bool {
	if h.importer.MaxPages > 0 && count > h.importer.MaxPages {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("too many pages: %d (limit %d)", count, h.importer.MaxPages),
		})
		return false
	}
	return true
}

func readFile(header *multipart.FileHeader) ([]byte, error) {
	f, err := header.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func parseBool(raw string) bool {
	value, err := strconv.ParseBool(raw)
	return err == nil && value
}
