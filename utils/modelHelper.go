package utils

import (
	"context"
	"errors"
	"fmt"

	mysqlDriver "github.com/go-sql-driver/mysql"
	"github.com/mmdatafocus/supply_backend/config"
	"gorm.io/gorm"
)

/* DB fetching */

// FetchSingleModel fetches a model from db by primary key only.
// (may return ErrorRecordNotFound)
func FetchSingleModel[T any](ctx context.Context, id int, associations ...string) (*T, error) {

	db := config.GetDB()
	dbCtx := db.WithContext(ctx)
	// preloading
	for _, field := range associations {
		dbCtx = dbCtx.Preload(field)
	}
	var result T
	err := dbCtx.First(&result, id).Error
	if err != nil {
		return nil, ErrorRecordNotFound
	}
	return &result, nil
}

// FetchModel fetches a model from db.
// (ctx's business_id is used in query's WHERE, may return ErrorRecordNotFound)
func FetchModel[T any](ctx context.Context, businessId string, id int, associations ...string) (*T, error) {

	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Where("business_id = ?", businessId)
	// preloading
	for _, field := range associations {
		dbCtx = dbCtx.Preload(field)
	}
	var result T
	err := dbCtx.First(&result, id).Error
	if err != nil {
		return nil, ErrorRecordNotFound
	}
	return &result, nil
}

// FetchAllModels fetches all models from db.
// (ctx's business_id is used in query's WHERE)
func FetchAllModels[T any](ctx context.Context, businessId string, associations ...string) ([]*T, error) {

	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Where("business_id = ?", businessId)
	// preloading
	for _, field := range associations {
		dbCtx = dbCtx.Preload(field)
	}
	var results []*T
	err := dbCtx.Find(&results).Error
	if err != nil {
		return nil, ErrorRecordNotFound
	}
	return results, nil
}

// GetSequence increments and returns the per-tenant sequence number for type T,
// backed by redis with a DB fallback seeded from MAX(sequence_no).
func GetSequence[T any](ctx context.Context, businessId string) (int64, error) {
	key := GetTypeName[T]() + "Seq:" + businessId

	seq, err := config.GetRedisCounter(ctx, key)
	if err != nil {
		return 0, err
	}
	if seq > 1 {
		return seq, nil
	}

	// Counter was cold (fresh redis or first record). Seed from the table.
	db := config.GetDB()
	var model T
	var max int64
	if err := db.WithContext(ctx).Model(&model).
		Where("business_id = ?", businessId).
		Select("COALESCE(MAX(sequence_no), 0)").Scan(&max).Error; err != nil {
		return 0, err
	}
	if max >= seq {
		seq = max + 1
		if err := config.SetRedisValue(key, fmt.Sprint(seq), 0); err != nil {
			return 0, err
		}
	}
	return seq, nil
}

func IsRecordNotFound(err error) bool {
	return err == gorm.ErrRecordNotFound || err == ErrorRecordNotFound
}

// IsDuplicateKey reports a MySQL unique constraint violation (1062).
func IsDuplicateKey(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}
