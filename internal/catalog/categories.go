package catalog

import (
	"context"
	"errors"
	"strings"

	"github.com/jogardn/agrimarket/internal/apperr"
	"github.com/jogardn/agrimarket/internal/store"
	"github.com/jogardn/agrimarket/pkg/models"
)

func (s *Service) ListCategories(ctx context.Context) ([]models.Category, error) {
	cats, err := s.catalog.ListCategories(ctx)
	if err != nil {
		s.logger.WithError(err).Error("Failed to list categories")
		return nil, apperr.Persistence(err)
	}
	return cats, nil
}

func (s *Service) ChildCategories(ctx context.Context, parentID int64) ([]models.Category, error) {
	if _, err := s.category(ctx, parentID); err != nil {
		return nil, err
	}
	children, err := s.catalog.ChildCategories(ctx, parentID)
	if err != nil {
		s.logger.WithError(err).WithField("category_id", parentID).Error("Failed to list child categories")
		return nil, apperr.Persistence(err)
	}
	return children, nil
}

// Subtree returns id and every category below it, breadth first.
func (s *Service) Subtree(ctx context.Context, id int64) ([]int64, error) {
	if _, err := s.category(ctx, id); err != nil {
		return nil, err
	}
	result := []int64{id}
	seen := map[int64]bool{id: true}
	queue := []int64{id}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		children, err := s.catalog.ChildCategories(ctx, current)
		if err != nil {
			return nil, apperr.Persistence(err)
		}
		for _, child := range children {
			if seen[child.ID] {
				continue
			}
			seen[child.ID] = true
			result = append(result, child.ID)
			queue = append(queue, child.ID)
		}
	}
	return result, nil
}

// CreateCategory adds a category under an optional parent. The parent chain
// is walked to the root so a corrupted tree is never extended.
func (s *Service) CreateCategory(ctx context.Context, name string, parentID *int64) (*models.Category, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperr.Validation(apperr.CodeInvalidRequest, "name is required")
	}
	if parentID != nil {
		if err := s.checkAncestry(ctx, *parentID); err != nil {
			return nil, err
		}
	}

	c := &models.Category{Name: name, ParentID: parentID}
	if err := s.catalog.CreateCategory(ctx, c); err != nil {
		if errors.Is(err, store.ErrNotFound) && parentID != nil {
			return nil, apperr.NotFound(apperr.CodeCategoryNotFound, "category %d not found", *parentID)
		}
		s.logger.WithError(err).Error("Failed to create category")
		return nil, apperr.Persistence(err)
	}
	s.logger.WithField("category_id", c.ID).Info("Category created")
	return c, nil
}

func (s *Service) checkAncestry(ctx context.Context, id int64) error {
	seen := map[int64]bool{}
	current := &id
	for current != nil {
		if seen[*current] {
			return apperr.Conflict(apperr.CodeCategoryCycle, "category %d is part of a cycle", *current)
		}
		seen[*current] = true
		c, err := s.category(ctx, *current)
		if err != nil {
			return err
		}
		current = c.ParentID
	}
	return nil
}

func (s *Service) category(ctx context.Context, id int64) (*models.Category, error) {
	c, err := s.catalog.GetCategory(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.NotFound(apperr.CodeCategoryNotFound, "category %d not found", id)
		}
		return nil, apperr.Persistence(err)
	}
	return c, nil
}
