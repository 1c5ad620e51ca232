// Package store keeps the history of proxied exchanges in SQLite.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Windscribe/goproxy-intercept"
)

var (
	ErrNotFound  = errors.New("no such request")
	ErrAmbiguous = errors.New("ambiguous request id")
)

// Request is one recorded exchange.
type Request struct {
	ID         string `gorm:"primaryKey;size:36"`
	CreatedAt  time.Time
	SessionID  int64
	Host       string `gorm:"index"`
	Method     string
	URL        string
	StatusCode int
	Duration   time.Duration
	Error      string
	Raw        []byte
	Response   []byte
	// Metadata holds one bag per plugin, see PluginDict.
	Metadata map[string]map[string]any `gorm:"serializer:json"`
}

func (r *Request) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}

// PluginDict returns the metadata bag of plugin key, creating it on first use.
// Changes are shared by every holder of the map and persisted by Store.Save.
// Not safe for concurrent use.
func (r *Request) PluginDict(key string) map[string]any {
	if r.Metadata == nil {
		r.Metadata = make(map[string]map[string]any)
	}
	d, ok := r.Metadata[key]
	if !ok {
		d = make(map[string]any)
		r.Metadata[key] = d
	}
	return d
}

type Store struct {
	db *gorm.DB
}

// Open opens, or creates, the database at path.
func Open(path string, logger goproxy.Logger) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: NewGormLogger(logger)})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if err := db.AutoMigrate(&Request{}); err != nil {
		return nil, fmt.Errorf("migrate %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Save writes req, metadata included. Nothing is persisted without it.
func (s *Store) Save(ctx context.Context, req *Request) error {
	return s.db.WithContext(ctx).Save(req).Error
}

// Get finds a request by id or by a unique id prefix.
func (s *Store) Get(ctx context.Context, id string) (*Request, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	var found []Request
	err := s.db.WithContext(ctx).
		Where(`id LIKE ? ESCAPE '\'`, likeEscaper.Replace(id)+"%").
		Limit(2).
		Find(&found).Error
	if err != nil {
		return nil, err
	}
	switch len(found) {
	case 0:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	case 1:
		return &found[0], nil
	}
	return nil, fmt.Errorf("%w: %s", ErrAmbiguous, id)
}

// likeEscaper makes a typed id prefix match literally.
var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

// Recent returns the last n requests, newest first, without their content.
func (s *Store) Recent(ctx context.Context, n int) ([]Request, error) {
	var list []Request
	err := s.db.WithContext(ctx).
		Omit("raw", "response").
		Order("created_at desc").
		Limit(n).
		Find(&list).Error
	return list, err
}

// Last returns the last n requests with their content, oldest first.
func (s *Store) Last(ctx context.Context, n int) ([]Request, error) {
	var list []Request
	err := s.db.WithContext(ctx).
		Order("created_at desc").
		Limit(n).
		Find(&list).Error
	for i, j := 0, len(list)-1; i < j; i, j = i+1, j-1 {
		list[i], list[j] = list[j], list[i]
	}
	return list, err
}
