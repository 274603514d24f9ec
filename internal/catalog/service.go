package catalog

import (
	"context"
)

// Service exposes read access to the product catalog.
type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) Search(ctx context.Context, q ListQuery) ([]Product, int, error) {
	return s.repo.List(ctx, q)
}

func (s *Service) GetBySKU(ctx context.Context, sku string) (*Product, error) {
	return s.repo.GetBySKU(ctx, sku)
}
