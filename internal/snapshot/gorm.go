package snapshot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/duke-git/lancet/v2/slice"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/hscHeric/kambo-hive-lib/pkg/logger"
)

// ResultRecord is one result row. Rows are keyed by task id and never
// updated once written.
type ResultRecord struct {
	TaskID           string `gorm:"primaryKey;size:36"`
	GraphID          string `gorm:"size:255;index"`
	WorkerID         string `gorm:"size:36;index"`
	Fitness          float64
	SolutionData     string `gorm:"type:text"`
	IterationsRun    uint32
	ProcessingTimeMs uint64
	CreatedAt        time.Time
}

// TableName implements gorm's tabler.
func (ResultRecord) TableName() string { return "task_results" }

// GormSink inserts snapshot entries into a SQL table. Entries already
// stored are skipped, so every save only adds new results.
type GormSink struct {
	db        *gorm.DB
	batchSize int
}

// OpenDialector returns the gorm dialector for driver ("mysql" or
// "postgres").
func OpenDialector(driver, dsn string) (gorm.Dialector, error) {
	switch strings.ToLower(driver) {
	case "mysql":
		return mysql.Open(dsn), nil
	case "postgres", "postgresql":
		return postgres.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %q", driver)
	}
}

// NewGormSink opens the database and migrates the results table.
func NewGormSink(driver, dsn string, log *zap.Logger) (*GormSink, error) {
	dialector, err := OpenDialector(driver, dsn)
	if err != nil {
		return nil, err
	}
	return openGormSink(dialector, &gorm.Config{Logger: logger.NewGormLogger(log)})
}

func openGormSink(dialector gorm.Dialector, cfg *gorm.Config) (*GormSink, error) {
	driver := dialector.Name()
	db, err := gorm.Open(dialector, cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if err := db.AutoMigrate(&ResultRecord{}); err != nil {
		closeDB(db)
		return nil, fmt.Errorf("migrate results table: %w", err)
	}
	return NewGormSinkWithDB(db), nil
}

// closeDB releases the connection pool behind db.
func closeDB(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

// NewGormSinkWithDB uses an already opened database.
func NewGormSinkWithDB(db *gorm.DB) *GormSink {
	return &GormSink{db: db, batchSize: 200}
}

func (g *GormSink) Name() string { return "database:" + g.db.Dialector.Name() }

func (g *GormSink) Write(ctx context.Context, snap Snapshot) error {
	records := Records(snap)
	if len(records) == 0 {
		return nil
	}
	db := g.db.WithContext(ctx)
	for _, batch := range slice.Chunk(records, g.batchSize) {
		if err := g.insert(db, batch).Error; err != nil {
			return err
		}
	}
	return nil
}

func (g *GormSink) insert(db *gorm.DB, records []ResultRecord) *gorm.DB {
	return db.Clauses(clause.OnConflict{DoNothing: true}).Create(&records)
}

// Close closes the underlying connection pool.
func (g *GormSink) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Records flattens a snapshot into table rows.
func Records(snap Snapshot) []ResultRecord {
	records := make([]ResultRecord, 0, snap.Len())
	for _, g := range snap {
		for _, e := range g.Results {
			records = append(records, ResultRecord{
				TaskID:           e.TaskID.String(),
				GraphID:          g.Name,
				WorkerID:         e.WorkerID.String(),
				Fitness:          e.Fitness,
				SolutionData:     e.SolutionData,
				IterationsRun:    e.IterationsRun,
				ProcessingTimeMs: e.ProcessingTimeMs,
			})
		}
	}
	return records
}
