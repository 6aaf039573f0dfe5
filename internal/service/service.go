// Package service implements the maker calc business operations on top of
// gorm. Every operation is scoped to the user it is called for; records owned
// by anyone else are reported as not found.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"makercalc/internal/apperr"
	"makercalc/internal/metrics"
	"makercalc/internal/plans"
	"makercalc/internal/quota"
	"makercalc/internal/storage"
	"makercalc/models"
)

// Options carries the collaborators of a Service. Zero values are replaced by
// in-process defaults.
type Options struct {
	Plans   *plans.Catalog
	Locker  quota.Locker
	Storage storage.Store
	Metrics *metrics.Metrics
	Now     func() time.Time
}

// Service exposes the costing, quota and catalog operations.
type Service struct {
	db      *gorm.DB
	plans   *plans.Catalog
	locker  quota.Locker
	store   storage.Store
	metrics *metrics.Metrics
	now     func() time.Time
}

// New builds a Service over db.
func New(db *gorm.DB, opts Options) *Service {
	s := &Service{
		db:      db,
		plans:   opts.Plans,
		locker:  opts.Locker,
		store:   opts.Storage,
		metrics: opts.Metrics,
		now:     opts.Now,
	}
	if s.plans == nil {
		s.plans = plans.Default()
	}
	if s.locker == nil {
		s.locker = quota.NewLocalLocker()
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	return s
}

// Plans returns the plan catalog used for quota evaluation.
func (s *Service) Plans() *plans.Catalog {
	return s.plans
}

func (s *Service) conn(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

// notFound translates gorm's missing record error for resource id.
func notFound(err error, resource string, id uint) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.NotFound(resource, id)
	}
	return err
}

// firstOwned loads the record of type T with id that belongs to userID.
func firstOwned[T any](tx *gorm.DB, userID, id uint, resource string, preloads ...string) (T, error) {
	var record T
	query := tx
	for _, preload := range preloads {
		query = query.Preload(preload)
	}
	if err := query.Where("id = ? AND owner_id = ?", id, userID).First(&record).Error; err != nil {
		return record, notFound(err, resource, id)
	}
	return record, nil
}

// planFor returns the subscription of userID and the plan it entitles the
// user to. Users without an entitled subscription get the free plan.
func (s *Service) planFor(tx *gorm.DB, userID uint) (models.Subscription, plans.Plan, error) {
	var sub models.Subscription
	err := tx.Where("user_id = ?", userID).First(&sub).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		sub = models.Subscription{UserID: userID, PlanTier: models.PlanFree, Status: models.SubscriptionActive}
	case err != nil:
		return models.Subscription{}, plans.Plan{}, fmt.Errorf("load subscription: %w", err)
	}

	if !sub.Entitled() {
		return sub, s.plans.Lookup(models.PlanFree), nil
	}
	return sub, s.plans.Lookup(sub.PlanTier), nil
}

func modelFor(res quota.Resource) any {
	switch res {
	case quota.Materials:
		return &models.RawMaterial{}
	case quota.Formulations:
		return &models.Formulation{}
	case quota.Vendors:
		return &models.Vendor{}
	case quota.Categories:
		return &models.MaterialCategory{}
	default:
		return &models.Attachment{}
	}
}

func countResource(tx *gorm.DB, userID uint, res quota.Resource) (int64, error) {
	var count int64
	if err := tx.Model(modelFor(res)).Where("owner_id = ?", userID).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count %s: %w", res, err)
	}
	return count, nil
}

func storageUsage(tx *gorm.DB, userID uint) (int64, error) {
	var used int64
	if err := tx.Model(&models.Attachment{}).
		Where("owner_id = ?", userID).
		Select("COALESCE(SUM(size_bytes), 0)").
		Scan(&used).Error; err != nil {
		return 0, fmt.Errorf("sum storage: %w", err)
	}
	return used, nil
}

type itemRow struct {
	ID        uint
	CreatedAt time.Time
	SizeBytes int64
}

func resourceItems(tx *gorm.DB, userID uint, res quota.Resource) ([]quota.Item, error) {
	columns := "id, created_at"
	if res == quota.Storage || res == quota.FileAttachments {
		columns = "id, created_at, size_bytes"
	}

	var rows []itemRow
	if err := tx.Model(modelFor(res)).
		Select(columns).
		Where("owner_id = ?", userID).
		Order("created_at asc, id asc").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("load %s items: %w", res, err)
	}

	items := make([]quota.Item, 0, len(rows))
	for _, row := range rows {
		items = append(items, quota.Item{ID: row.ID, CreatedAt: row.CreatedAt, Size: row.SizeBytes})
	}
	return items, nil
}

func snapshot(tx *gorm.DB, userID uint) (quota.Snapshot, error) {
	snap := make(quota.Snapshot, len(quota.Resources))
	for _, res := range quota.Resources {
		items, err := resourceItems(tx, userID, res)
		if err != nil {
			return nil, err
		}
		snap[res] = items
	}
	return snap, nil
}

// guardedCreate runs fn inside a transaction after confirming that userID may
// create one more res. Creation of a resource is serialized per user so
// concurrent requests cannot both pass the check.
func (s *Service) guardedCreate(ctx context.Context, userID uint, res quota.Resource, fn func(tx *gorm.DB) error) error {
	unlock, err := s.locker.Lock(ctx, quota.Key(userID, res))
	if err != nil {
		return fmt.Errorf("acquire %s quota lock: %w", res, err)
	}
	defer unlock()

	return s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		_, plan, err := s.planFor(tx, userID)
		if err != nil {
			return err
		}
		usage, err := countResource(tx, userID, res)
		if err != nil {
			return err
		}
		if err := quota.CheckCreate(res, usage, plan.Limits().Limit(res)); err != nil {
			s.metrics.QuotaDenied(string(res))
			return err
		}
		return fn(tx)
	})
}

// ensureWritable rejects changes to soft locked items.
func (s *Service) ensureWritable(tx *gorm.DB, userID uint, res quota.Resource, id uint) error {
	_, plan, err := s.planFor(tx, userID)
	if err != nil {
		return err
	}
	items, err := resourceItems(tx, userID, res)
	if err != nil {
		return err
	}
	rs := quota.EvaluateResource(res, plan.Limits().Limit(res), items)
	if err := quota.CheckWritable(rs, id); err != nil {
		s.metrics.ReadOnlyRejected(string(res))
		return err
	}
	return nil
}
