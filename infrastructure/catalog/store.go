package catalog

import (
	"context"
	"fmt"
	"sort"
	"time"

	"chat-relay/domain/catalog"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// candidateLimit bounds how many keyword matches are ranked per query.
const candidateLimit = 200

// Store implements catalog.Repository on a sqlite file via GORM.
type Store struct {
	db *gorm.DB
}

// Open connects to the sqlite database at path and runs migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	logrus.WithField("path", path).Info("Opening catalog database...")

	// Configure GORM logger
	gormLogger := logger.New(
		logrus.StandardLogger(),
		logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormLogger,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog database: %w", err)
	}

	store, err := NewStore(db)
	if err != nil {
		return nil, err
	}
	if err := store.Health(ctx); err != nil {
		return nil, err
	}

	logrus.Info("Catalog database ready")
	return store, nil
}

// NewStore wraps an open connection and migrates the schema.
func NewStore(db *gorm.DB) (*Store, error) {
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying SQL DB: %w", err)
	}
	// sqlite allows one writer; a single connection also keeps :memory: databases shared.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&catalog.Page{}); err != nil {
		return nil, fmt.Errorf("failed to migrate catalog schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying SQL DB for close: %w", err)
	}
	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("failed to close catalog database: %w", err)
	}
	logrus.Info("Catalog database closed")
	return nil
}

// Health checks database connectivity
func (s *Store) Health(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying SQL DB: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("catalog database ping failed: %w", err)
	}
	return nil
}

// Upsert inserts the page or refreshes the row with the same URL.
func (s *Store) Upsert(ctx context.Context, page *catalog.Page) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "url"}},
		DoUpdates: clause.AssignmentColumns([]string{"title", "description", "body", "fetched_at", "updated_at"}),
	}).Create(page).Error
	if err != nil {
		return fmt.Errorf("failed to upsert page %s: %w", page.URL, err)
	}
	return nil
}

// Search matches any keyword against title, description or body and ranks
// the candidates by weighted hits, most recently fetched first on ties.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]*catalog.Page, error) {
	keywords := catalog.Keywords(query)
	if len(keywords) == 0 || limit <= 0 {
		return nil, nil
	}

	db := s.db.WithContext(ctx).Model(&catalog.Page{})
	for i, kw := range keywords {
		pattern := "%" + kw + "%"
		cond := "(lower(title) LIKE ? OR lower(description) LIKE ? OR lower(body) LIKE ?)"
		if i == 0 {
			db = db.Where(cond, pattern, pattern, pattern)
		} else {
			db = db.Or(cond, pattern, pattern, pattern)
		}
	}

	var pages []*catalog.Page
	if err := db.Order("fetched_at DESC").Limit(candidateLimit).Find(&pages).Error; err != nil {
		return nil, fmt.Errorf("failed to search catalog: %w", err)
	}

	scores := make(map[*catalog.Page]int, len(pages))
	for _, p := range pages {
		scores[p] = p.Score(keywords)
	}
	sort.SliceStable(pages, func(i, j int) bool {
		return scores[pages[i]] > scores[pages[j]]
	})

	if len(pages) > limit {
		pages = pages[:limit]
	}
	return pages, nil
}

// Count returns the number of stored pages.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&catalog.Page{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("failed to count catalog pages: %w", err)
	}
	return n, nil
}
