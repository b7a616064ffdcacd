package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/richjun-project/vibescan/internal/database/models"
	"gorm.io/gorm"
)

// Page is one page of a user's scan history, newest first.
type Page struct {
	Items      []models.Scan
	Total      int64
	Page       int
	PerPage    int
	TotalPages int
}

// Registry is the read side: history listing, detail lookup, share
// tokens, public visibility.
type Registry struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewRegistry(db *gorm.DB, logger *slog.Logger) *Registry {
	return &Registry{db: db, logger: logger}
}

// ListByOwner pages through a user's scans ordered by creation time
// descending. Each request reads its own snapshot, so concurrent
// inserts only surface on a fresh page-1 load.
func (r *Registry) ListByOwner(ctx context.Context, ownerID uuid.UUID, page, perPage int) (*Page, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 20
	}
	if perPage > 100 {
		perPage = 100
	}

	query := r.db.WithContext(ctx).Model(&models.Scan{}).Where("owner_id = ?", ownerID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("counting scans: %w", err)
	}

	var items []models.Scan
	if err := query.
		Order("created_at DESC").
		Offset((page - 1) * perPage).
		Limit(perPage).
		Find(&items).Error; err != nil {
		return nil, fmt.Errorf("listing scans: %w", err)
	}

	totalPages := int(total) / perPage
	if int(total)%perPage > 0 {
		totalPages++
	}

	return &Page{
		Items:      items,
		Total:      total,
		Page:       page,
		PerPage:    perPage,
		TotalPages: totalPages,
	}, nil
}

// GetByID returns a scan with its vulnerabilities. Only the owner may
// read a non-public scan.
func (r *Registry) GetByID(ctx context.Context, scanID, requesterID uuid.UUID) (*models.Scan, error) {
	var scanRow models.Scan
	err := r.db.WithContext(ctx).
		Preload("Vulnerabilities").
		First(&scanRow, "id = ?", scanID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrScanNotFound
		}
		return nil, fmt.Errorf("loading scan: %w", err)
	}

	if scanRow.OwnerID != requesterID && !scanRow.IsPublic {
		return nil, ErrForbidden
	}
	return &scanRow, nil
}

// GetByShareToken returns the scan behind a share token if its owner
// made it public. Callers must use the public projection; the token
// grants anonymous access.
func (r *Registry) GetByShareToken(ctx context.Context, shareToken string) (*models.Scan, error) {
	if shareToken == "" {
		return nil, ErrScanNotFound
	}

	var scanRow models.Scan
	err := r.db.WithContext(ctx).
		Preload("Vulnerabilities").
		Where("share_token = ? AND is_public = ?", shareToken, true).
		First(&scanRow).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrScanNotFound
		}
		return nil, fmt.Errorf("loading scan by token: %w", err)
	}
	return &scanRow, nil
}

// TogglePublic flips the scan's public flag. Owner only.
func (r *Registry) TogglePublic(ctx context.Context, scanID, ownerID uuid.UUID) (*models.Scan, error) {
	var scanRow models.Scan
	if err := r.db.WithContext(ctx).First(&scanRow, "id = ?", scanID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrScanNotFound
		}
		return nil, fmt.Errorf("loading scan: %w", err)
	}
	if scanRow.OwnerID != ownerID {
		return nil, ErrForbidden
	}

	scanRow.IsPublic = !scanRow.IsPublic
	if err := r.db.WithContext(ctx).
		Model(&models.Scan{}).
		Where("id = ?", scanID).
		UpdateColumn("is_public", scanRow.IsPublic).Error; err != nil {
		return nil, fmt.Errorf("toggling public flag: %w", err)
	}
	return &scanRow, nil
}

// AuthorizeSubscribe decides whether a real-time subscription to a
// scan's events is allowed: the owner always, anyone else only via
// the share token of a public scan.
func (r *Registry) AuthorizeSubscribe(ctx context.Context, scanID, requesterID uuid.UUID, shareToken string) error {
	var scanRow models.Scan
	if err := r.db.WithContext(ctx).First(&scanRow, "id = ?", scanID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrScanNotFound
		}
		return fmt.Errorf("loading scan: %w", err)
	}
	if scanRow.OwnerID == requesterID {
		return nil
	}
	if scanRow.IsPublic && shareToken != "" && scanRow.ShareToken == shareToken {
		return nil
	}
	return ErrForbidden
}

// CurrentState returns the snapshot event for a scan, sent to clients
// right after they subscribe so reconnects converge without replay.
func (r *Registry) CurrentState(ctx context.Context, scanID uuid.UUID) (*Event, error) {
	var scanRow models.Scan
	if err := r.db.WithContext(ctx).First(&scanRow, "id = ?", scanID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrScanNotFound
		}
		return nil, fmt.Errorf("loading scan: %w", err)
	}
	evt := EventFromScan(&scanRow)
	return &evt, nil
}
