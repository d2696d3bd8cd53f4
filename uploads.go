package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/supply_backend/config"
	"github.com/mmdatafocus/supply_backend/models"
	"github.com/mmdatafocus/supply_backend/utils"
	"github.com/sirupsen/logrus"
)

const maxUploadSizeBytes int64 = 5 * 1024 * 1024

var imageMimeTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
}

var attachmentMimeTypes = map[string]bool{
	"application/pdf":          true,
	"application/msword":       true,
	"application/vnd.ms-excel": true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":       true,
	"image/jpeg": true,
	"image/png":  true,
}

type uploadResponse struct {
	DocumentURL  string          `json:"documentUrl"`
	ThumbnailURL string          `json:"thumbnailUrl,omitempty"`
	ObjectKey    string          `json:"objectKey"`
	Document     *uploadDocument `json:"document,omitempty"`
}

type uploadDocument struct {
	ID          int    `json:"id"`
	DocumentURL string `json:"documentUrl"`
}

// uploadAttachmentHandler takes one multipart file, pushes it to GCS under
// the tenant's prefix, and links it to a supply request when reference fields
// are present. Images also get a 200px thumbnail.
func uploadAttachmentHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := config.GetLogger()
		ctx := c.Request.Context()

		businessId, ok := utils.GetBusinessIdFromContext(ctx)
		if !ok || businessId == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		fileHeader, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
			return
		}
		if fileHeader.Size > maxUploadSizeBytes {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file size exceeds 5MB limit"})
			return
		}

		file, err := fileHeader.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read file"})
			return
		}
		defer file.Close()

		data, err := io.ReadAll(io.LimitReader(file, maxUploadSizeBytes+1))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read file"})
			return
		}
		if int64(len(data)) > maxUploadSizeBytes {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file size exceeds 5MB limit"})
			return
		}

		mimeType := http.DetectContentType(data)
		ext := strings.ToLower(filepath.Ext(fileHeader.Filename))
		if mimeType == "application/zip" {
			switch ext {
			case ".docx":
				mimeType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
			case ".xlsx":
				mimeType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
			}
		}
		if !attachmentMimeTypes[mimeType] {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unsupported file type: %s", mimeType)})
			return
		}

		objectKey := path.Join(businessId, "supply-requests", utils.GenerateUniqueFilename()+ext)
		if err := utils.UploadBytesToGCS(ctx, objectKey, mimeType, data); err != nil {
			logUploadError(logger, err, requestIDFromHeaders(c))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "upload failed"})
			return
		}

		response := uploadResponse{
			ObjectKey:   objectKey,
			DocumentURL: utils.BuildObjectAccessURL(objectKey),
		}

		if imageMimeTypes[mimeType] {
			thumbnailKey, err := createThumbnail(ctx, objectKey, data)
			if err != nil {
				logUploadError(logger, err, requestIDFromHeaders(c))
			} else {
				response.ThumbnailURL = utils.BuildObjectAccessURL(thumbnailKey)
			}
		}

		referenceId, _ := strconv.Atoi(c.PostForm("referenceId"))
		if referenceId > 0 {
			db := config.GetDB()
			input := []models.NewDocument{{
				DocumentUrl:  response.DocumentURL,
				ThumbnailUrl: response.ThumbnailURL,
				FileName:     fileHeader.Filename,
				ContentType:  mimeType,
			}}
			if err := models.AttachDocuments(ctx, db.WithContext(ctx), input, models.ReferenceTypeSupplyRequest, referenceId); err != nil {
				logUploadError(logger, err, requestIDFromHeaders(c))
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			documents, err := models.GetDocuments(ctx, models.ReferenceTypeSupplyRequest, referenceId)
			if err == nil && len(documents) > 0 {
				last := documents[len(documents)-1]
				response.Document = &uploadDocument{ID: last.ID, DocumentURL: last.DocumentUrl}
			}
		}

		logger.WithFields(logrus.Fields{
			"tenant_id":  businessId,
			"mime_type":  mimeType,
			"size":       len(data),
			"object_key": objectKey,
		}).Info("[upload.complete]")

		c.JSON(http.StatusOK, gin.H{"data": response})
	}
}

func createThumbnail(ctx context.Context, objectKey string, data []byte) (string, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	thumbnail := imaging.Resize(img, 200, 0, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumbnail, imaging.JPEG); err != nil {
		return "", err
	}

	thumbnailKey := thumbnailObjectKey(objectKey)
	if err := utils.UploadBytesToGCS(ctx, thumbnailKey, "image/jpeg", buf.Bytes()); err != nil {
		return "", err
	}
	return thumbnailKey, nil
}

func thumbnailObjectKey(objectKey string) string {
	dir := path.Dir(objectKey)
	filename := path.Base(objectKey)
	return path.Join(dir, "thumbnails", filename)
}

// downloadObjectHandler streams an object back through the API. Used by
// clients that cannot read the bucket directly.
func downloadObjectHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		objectKey := strings.TrimSpace(c.Query("key"))
		if objectKey == "" || strings.Contains(objectKey, "..") || strings.HasPrefix(objectKey, "/") {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid key"})
			return
		}

		// objects are namespaced by tenant prefix
		businessId, ok := utils.GetBusinessIdFromContext(c.Request.Context())
		if !ok || !strings.HasPrefix(objectKey, businessId+"/") {
			c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}

		client, err := utils.GetGCSClient(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "storage client error"})
			return
		}
		defer client.Close()

		bucket := strings.TrimSpace(os.Getenv("GCS_BUCKET"))
		if bucket == "" {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "GCS_BUCKET is required"})
			return
		}
		obj := client.Bucket(bucket).Object(objectKey)
		attrs, err := obj.Attrs(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "object not found"})
			return
		}
		reader, err := obj.NewReader(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "object not found"})
			return
		}
		defer reader.Close()

		if attrs.ContentType != "" {
			c.Writer.Header().Set("Content-Type", attrs.ContentType)
		}
		if attrs.Size > 0 {
			c.Writer.Header().Set("Content-Length", fmt.Sprintf("%d", attrs.Size))
		}
		c.Status(http.StatusOK)
		_, _ = io.Copy(c.Writer, reader)
	}
}

func logUploadError(logger *logrus.Logger, err error, requestID string) {
	logger.WithFields(logrus.Fields{
		"error":      err.Error(),
		"request_id": requestID,
	}).Error("[upload.error]")
}

func requestIDFromHeaders(c *gin.Context) string {
	if id := strings.TrimSpace(c.GetHeader("X-Correlation-Id")); id != "" {
		return id
	}
	if id := strings.TrimSpace(c.GetHeader("X-Request-Id")); id != "" {
		return id
	}
	return fmt.Sprintf("upload-%d", time.Now().UnixNano())
}
