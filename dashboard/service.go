package dashboard

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mmdatafocus/sla_dashboard/config"
	"github.com/mmdatafocus/sla_dashboard/metrics"
	"github.com/mmdatafocus/sla_dashboard/models"
	"github.com/mmdatafocus/sla_dashboard/sla"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const readBatchSize = 1000

// Service serves classified order views. Classification is recomputed on
// every request against Now and never cached.
type Service struct {
	DB       *gorm.DB
	Redis    *redis.Client
	Settings config.Settings
	Logger   *logrus.Logger
	Now      func() time.Time
}

func NewService(db *gorm.DB, rdb *redis.Client, settings config.Settings, logger *logrus.Logger) *Service {
	return &Service{DB: db, Redis: rdb, Settings: settings, Logger: logger, Now: time.Now}
}

func (s *Service) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}

func (s *Service) logger() *logrus.Logger {
	if s.Logger == nil {
		return config.GetLogger()
	}
	return s.Logger
}

func (s *Service) location() *time.Location {
	if s.Settings.Location == nil {
		return time.UTC
	}
	return s.Settings.Location
}

// ClassifiedOrder is an order with its live classification.
type ClassifiedOrder struct {
	models.Order
	sla.Classification
	Table string `json:"table"`
}

// visit is called for every confirmed order in scope.
type visit func(table models.OrderTable, co ClassifiedOrder)

// eachOrder streams the confirmed orders of every table matching f through
// the shared classifier. Orders whose brand/country has no TatConfig are
// classified Unknown, never skipped.
func (s *Service) eachOrder(ctx context.Context, f OrderFilter, fn visit) error {
	registry, err := models.DiscoverOrderTables(ctx, s.DB)
	if err != nil {
		return fmt.Errorf("discover order tables: %w", err)
	}
	configs, err := models.LoadTatConfigIndex(ctx, s.DB, s.Redis, s.Settings.TatCacheTTL)
	if err != nil {
		return err
	}
	from, to, err := f.placedRange(s.location())
	if err != nil {
		return err
	}

	marker := s.Settings.ConfirmedMarker
	if marker == "" {
		marker = models.DefaultConfirmedMarker
	}
	now := s.now()

	for _, table := range registry.Filter(f.Brand, f.Country) {
		if err := ctx.Err(); err != nil {
			return err
		}
		query := table.Query(s.DB.WithContext(ctx)).
			Where("LOWER(confirmation_status) = ?", strings.ToLower(strings.TrimSpace(marker))).
			Scopes(f.stageScope)
		if from != nil {
			query = query.Where("placed_time >= ?", *from)
		}
		if to != nil {
			query = query.Where("placed_time < ?", *to)
		}

		var batch []models.Order
		res := query.FindInBatches(&batch, readBatchSize, func(tx *gorm.DB, _ int) error {
			for _, o := range batch {
				if !o.IsConfirmed(marker) {
					continue
				}
				brand, country := o.BrandCode, o.CountryCode
				if strings.TrimSpace(brand) == "" {
					brand = table.Brand
				}
				if strings.TrimSpace(country) == "" {
					country = table.Country
				}
				c := sla.Classify(o.Timeline(), configs.Lookup(brand, country), now)
				metrics.ClassifiedOrdersTotal.WithLabelValues(c.SlaStatus.String()).Inc()
				fn(table, ClassifiedOrder{Order: o, Classification: c, Table: table.Name})
			}
			return nil
		})
		if res.Error != nil {
			return fmt.Errorf("read %s: %w", table.Name, res.Error)
		}
	}
	return nil
}
