package storage

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/LJTian/SectorPulse/internal/archive"
	"github.com/LJTian/SectorPulse/internal/processor"
)

// ExportEvent 导出事件的归档表，每次导出运行按 RunDate 区分
type ExportEvent struct {
	ID       string `gorm:"primaryKey;size:40" json:"id"`
	RunDate  string `gorm:"size:10;index" json:"runDate"`
	Category string `gorm:"size:64;index" json:"category"`
	Sector   string `gorm:"size:64;index" json:"sector"`
	// 原样保存来源的时间字符串（GKG 为 YYYYMMDDhhmmss，行情新闻为 ISO 格式）
	Timestamp   string         `gorm:"size:32" json:"timestamp"`
	Ticker      string         `gorm:"size:16" json:"ticker,omitempty"`
	Title       string         `gorm:"size:512" json:"title,omitempty"`
	Source      string         `gorm:"size:128" json:"source,omitempty"`
	URL         string         `gorm:"size:1024" json:"url"`
	ImpactScore float64        `gorm:"index" json:"impactScore"`
	Themes      datatypes.JSON `json:"themes"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Store Postgres 与 Redis 都是可选的，未配置的一侧为 nil
type Store struct {
	DB    *gorm.DB
	Redis *redis.Client
	log   *logrus.Entry
}

func NewStore(dsn, redisAddr string, log *logrus.Entry) (*Store, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	s := &Store{log: log}

	if dsn != "" {
		db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
		if err != nil {
			return nil, err
		}
		if err := db.AutoMigrate(&ExportEvent{}); err != nil {
			return nil, err
		}
		s.DB = db
	}

	if redisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr: redisAddr,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.WithError(err).Warn("redis ping failed")
		}
		s.Redis = rdb
	}

	return s, nil
}

// toValidUTF8 GKG 文件经 Latin-1 解码后一般是合法 UTF-8，这里再兜底一次，避免 PostgreSQL invalid byte sequence
func toValidUTF8(s string) string {
	return strings.ToValidUTF8(s, "\uFFFD")
}

// truncateRunesDB 按 rune 数截断，确保不超过字段长度
func truncateRunesDB(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	s = strings.TrimSpace(s)
	rs := []rune(s)
	if len(rs) <= limit {
		return s
	}
	return string(rs[:limit])
}

// EventID 同一天同一板块同一链接同一时间只保留一条
func EventID(runDate string, e archive.Event) string {
	return processor.HashKey(runDate, e.Bucket.Category, e.Bucket.Sector, e.Link(), e.Timestamp, e.Ticker)
}

func eventRows(runDate string, events []archive.Event) []ExportEvent {
	rows := make([]ExportEvent, 0, len(events))
	seen := make(map[string]struct{}, len(events))
	for _, e := range events {
		id := EventID(runDate, e)
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}

		themes := e.ThemesMatched
		if themes == nil {
			themes = []string{}
		}
		raw, _ := json.Marshal(themes)
		rows = append(rows, ExportEvent{
			ID:          id,
			RunDate:     runDate,
			Category:    e.Bucket.Category,
			Sector:      e.Bucket.Sector,
			Timestamp:   e.Timestamp,
			Ticker:      e.Ticker,
			Title:       truncateRunesDB(toValidUTF8(e.Title), 512),
			Source:      truncateRunesDB(toValidUTF8(e.Source), 128),
			URL:         truncateRunesDB(toValidUTF8(e.Link()), 1024),
			ImpactScore: e.MarketImpactScore,
			Themes:      datatypes.JSON(raw),
		})
	}
	return rows
}

// SaveEvents 以 ID 为幂等键写入；已存在时更新分值与主题。未配置数据库时什么都不做
func (s *Store) SaveEvents(ctx context.Context, runDate string, events []archive.Event) (int, error) {
	if s.DB == nil || len(events) == 0 {
		return 0, nil
	}
	rows := eventRows(runDate, events)
	err := s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"impact_score", "themes", "title", "updated_at"}),
	}).CreateInBatches(rows, 200).Error
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

// ListEvents 按导出日期与可选板块查询，按影响力倒序
func (s *Store) ListEvents(ctx context.Context, runDate, sector string, limit int) ([]ExportEvent, error) {
	if s.DB == nil {
		return nil, ErrNoDatabase
	}
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	db := s.DB.WithContext(ctx).Model(&ExportEvent{})
	if runDate != "" {
		db = db.Where("run_date = ?", runDate)
	}
	if sector != "" {
		db = db.Where("sector = ?", sector)
	}
	var list []ExportEvent
	if err := db.Order("impact_score DESC").Order("timestamp DESC").Limit(limit).Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}
