package db

import (
	"fmt"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var testSeq uint64

// NewTest opens a private in-memory sqlite database for a single test.
func NewTest() (*gorm.DB, error) {
	testSeq++
	dsn := fmt.Sprintf("file:sendora_test_%d?mode=memory&cache=shared", testSeq)
	return gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
}
