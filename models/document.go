package models

import (
	"context"
	"time"

	"github.com/mmdatafocus/supply_backend/config"
	"github.com/mmdatafocus/supply_backend/utils"
	"gorm.io/gorm"
)

// Document is a polymorphic attachment row (receipts, quotes, signed POs)
// stored in GCS and linked by reference type + id.
type Document struct {
	ID            int       `gorm:"primary_key" json:"id"`
	BusinessId    string    `gorm:"size:36;index;not null" json:"business_id"`
	DocumentUrl   string    `gorm:"size:1024;not null" json:"document_url"`
	ThumbnailUrl  string    `gorm:"size:1024" json:"thumbnail_url"`
	FileName      string    `gorm:"size:255" json:"file_name"`
	ContentType   string    `gorm:"size:100" json:"content_type"`
	ReferenceId   int       `gorm:"index:idx_doc_ref" json:"reference_id"`
	ReferenceType string    `gorm:"size:100;index:idx_doc_ref" json:"reference_type"`
	UploadedBy    int       `json:"uploaded_by"`
	CreatedAt     time.Time `json:"created_at"`
}

type NewDocument struct {
	DocumentUrl  string `json:"document_url" binding:"required"`
	ThumbnailUrl string `json:"thumbnail_url"`
	FileName     string `json:"file_name"`
	ContentType  string `json:"content_type"`
}

// mapNewDocuments builds attachment rows for one referenced record.
func mapNewDocuments(ctx context.Context, inputs []NewDocument, referenceType string, referenceId int) []Document {
	businessId, _ := utils.GetBusinessIdFromContext(ctx)
	userId, _ := utils.GetUserIdFromContext(ctx)

	documents := make([]Document, 0, len(inputs))
	for _, input := range inputs {
		documents = append(documents, Document{
			BusinessId:    businessId,
			DocumentUrl:   input.DocumentUrl,
			ThumbnailUrl:  input.ThumbnailUrl,
			FileName:      input.FileName,
			ContentType:   input.ContentType,
			ReferenceId:   referenceId,
			ReferenceType: referenceType,
			UploadedBy:    userId,
		})
	}
	return documents
}

// AttachDocuments links uploaded files to a record inside tx.
func AttachDocuments(ctx context.Context, tx *gorm.DB, inputs []NewDocument, referenceType string, referenceId int) error {
	if len(inputs) == 0 {
		return nil
	}
	documents := mapNewDocuments(ctx, inputs, referenceType, referenceId)
	return tx.Create(&documents).Error
}

// GetDocuments lists attachments of one record.
func GetDocuments(ctx context.Context, referenceType string, referenceId int) ([]*Document, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.ErrorAccessDenied
	}

	var documents []*Document
	db := config.GetDB()
	err := db.WithContext(ctx).
		Where("business_id = ? AND reference_type = ? AND reference_id = ?", businessId, referenceType, referenceId).
		Order("id ASC").
		Find(&documents).Error
	if err != nil {
		return nil, err
	}
	return documents, nil
}
