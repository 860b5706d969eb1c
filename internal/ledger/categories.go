package ledger

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/financial-tracker/internal/models"
	"github.com/smartdevs17/financial-tracker/pkg/utils"
)

// CategoryInput is the writable part of a category
type CategoryInput struct {
	Name *string `json:"name"`
}

func (in *CategoryInput) validate() (string, error) {
	if in == nil || in.Name == nil {
		return "", required("name")
	}
	if err := validateText("name", *in.Name, MaxCategoryNameLength); err != nil {
		return "", err
	}
	return strings.TrimSpace(*in.Name), nil
}

// ListCategories returns the user's categories
func (s *Service) ListCategories(ctx context.Context, userID int64) ([]*models.Category, error) {
	categories, err := s.store.ListCategories(ctx, userID)
	if err != nil {
		return nil, err
	}
	if categories == nil {
		categories = []*models.Category{}
	}
	return categories, nil
}

// GetCategory returns one of the user's categories
func (s *Service) GetCategory(ctx context.Context, userID, id int64) (*models.Category, error) {
	return s.store.GetCategory(ctx, userID, id)
}

// CreateCategory creates a category; names are unique per user
func (s *Service) CreateCategory(ctx context.Context, userID int64, in *CategoryInput) (*models.Category, error) {
	name, err := in.validate()
	if err != nil {
		return nil, err
	}

	category := &models.Category{UserID: userID, Name: name}
	if err := s.store.CreateCategory(ctx, category); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{"user_id": userID, "category_id": category.ID}).Info("Category created")
	return category, nil
}

// UpdateCategory renames a category. A partial update without a name leaves
// the category unchanged.
func (s *Service) UpdateCategory(ctx context.Context, userID, id int64, in *CategoryInput, partial bool) (*models.Category, error) {
	category, err := s.store.GetCategory(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if partial && (in == nil || in.Name == nil) {
		return category, nil
	}

	name, err := in.validate()
	if err != nil {
		return nil, err
	}

	category.Name = name
	if err := s.store.UpdateCategory(ctx, category); err != nil {
		return nil, err
	}
	return category, nil
}

// DeleteCategory removes a category no transaction uses
func (s *Service) DeleteCategory(ctx context.Context, userID, id int64) error {
	if err := s.store.DeleteCategory(ctx, userID, id); err != nil {
		if utils.IsCode(err, utils.ErrCodeValidation) {
			if p := s.prometheus(); p != nil {
				p.RecordLedgerRejection("category_in_use")
			}
		}
		return err
	}

	s.logger.WithFields(logrus.Fields{"user_id": userID, "category_id": id}).Info("Category deleted")
	return nil
}
