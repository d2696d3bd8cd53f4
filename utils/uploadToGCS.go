package utils

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// getGoogleClient initializes a Google Cloud Storage client.
// Prefers ADC (Cloud Run service account / GOOGLE_APPLICATION_CREDENTIALS).
// If you need to provide explicit JSON (e.g. locally), set GCS_CREDENTIALS_JSON.
func getGoogleClient(ctx context.Context) (*storage.Client, error) {
	if credJSON := os.Getenv("GCS_CREDENTIALS_JSON"); strings.TrimSpace(credJSON) != "" {
		client, err := storage.NewClient(ctx, option.WithCredentialsJSON([]byte(credJSON)))
		if err != nil {
			return nil, err
		}
		return client, nil
	}

	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// GetGCSClient exposes the shared Google Cloud Storage client.
func GetGCSClient(ctx context.Context) (*storage.Client, error) {
	return getGoogleClient(ctx)
}

func getBucketName() (string, error) {
	bucketName := strings.TrimSpace(os.Getenv("GCS_BUCKET"))
	if bucketName == "" {
		return "", errors.New("GCS_BUCKET is required")
	}
	return bucketName, nil
}

// allowed MIME types for supply request attachments (receipts, quotes, POs)
var allowedMimeTypes = map[string]bool{
	"application/pdf":          true,
	"application/msword":       true,
	"application/vnd.ms-excel": true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":       true,
	"image/jpeg": true,
	"image/png":  true,
}

func UploadFileToGCS(ctx context.Context, objectName string, fileContent io.Reader) error {
	fileData, err := io.ReadAll(fileContent)
	if err != nil {
		return fmt.Errorf("failed to read file content: %v", err)
	}

	mimeType := http.DetectContentType(fileData)

	// Manually set MIME type for .docx and .xlsx files
	if mimeType == "application/zip" {
		if strings.HasSuffix(objectName, ".docx") {
			mimeType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
		} else if strings.HasSuffix(objectName, ".xlsx") {
			mimeType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
		}
	}

	if !allowedMimeTypes[mimeType] {
		return fmt.Errorf("unsupported file type: %s", mimeType)
	}

	return UploadBytesToGCS(ctx, objectName, mimeType, fileData)
}

func UploadBytesToGCS(ctx context.Context, objectName string, contentType string, data []byte) error {
	bucketName, err := getBucketName()
	if err != nil {
		return err
	}

	client, err := getGoogleClient(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	wc := client.Bucket(bucketName).Object(objectName).NewWriter(ctx)
	wc.ContentType = contentType
	if _, err := wc.Write(data); err != nil {
		return err
	}
	if err := wc.Close(); err != nil {
		return err
	}
	return nil
}

// CheckFileExistInGCS verifies an object referenced by a document URL exists.
func CheckFileExistInGCS(objectURL string) error {
	bucketName, err := getBucketName()
	if err != nil {
		return err
	}

	objectName := strings.TrimPrefix(objectURL, BuildObjectAccessURL(""))
	if objectName == "" || objectName == objectURL && strings.HasPrefix(objectURL, "http") {
		// Absolute URL from a different bucket/provider: reject.
		if strings.HasPrefix(objectURL, "http") && !strings.Contains(objectURL, bucketName) {
			return fmt.Errorf("document url does not belong to bucket %q", bucketName)
		}
		objectName = objectURL
	}

	ctx := context.Background()
	client, err := getGoogleClient(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	_, err = client.Bucket(bucketName).Object(objectName).Attrs(ctx)
	if err != nil {
		return fmt.Errorf("object %q not found in bucket %q: %v", objectName, bucketName, err)
	}
	return nil
}

// DeleteObjectFromGCS removes an uploaded object. Best-effort from callers.
func DeleteObjectFromGCS(ctx context.Context, objectName string) error {
	bucketName, err := getBucketName()
	if err != nil {
		return err
	}
	client, err := getGoogleClient(ctx)
	if err != nil {
		return err
	}
	defer client.Close()
	return client.Bucket(bucketName).Object(objectName).Delete(ctx)
}

// BuildObjectAccessURL returns the public URL for an object key.
func BuildObjectAccessURL(objectKey string) string {
	bucketName := strings.TrimSpace(os.Getenv("GCS_BUCKET"))
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", bucketName, objectKey)
}
