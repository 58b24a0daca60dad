package parts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Repository abstracts catalog persistence.
type Repository interface {
	Create(ctx context.Context, part Part) (Part, error)
	Update(ctx context.Context, id int64, input UpdateInput) (Part, error)
	Get(ctx context.Context, id int64) (Part, error)
	List(ctx context.Context, filter ListFilter) ([]Part, int, error)
	FindByBarcode(ctx context.Context, code string) (Part, error)
	FindByPartNumber(ctx context.Context, code string) (Part, error)
	Candidates(ctx context.Context) ([]Part, error)
}

// Config tunes fuzzy suggestions.
type Config struct {
	MaxDistance    int
	MaxSuggestions int
}

// Service manages the part catalog.
type Service struct {
	repo Repository
	cfg  Config
}

// NewService builds Service.
func NewService(repo Repository, cfg Config) *Service {
	if cfg.MaxDistance <= 0 {
		cfg.MaxDistance = 3
	}
	if cfg.MaxSuggestions <= 0 {
		cfg.MaxSuggestions = 5
	}
	return &Service{repo: repo, cfg: cfg}
}

// Create registers a part. The initial quantity becomes the reconciliation seed.
func (s *Service) Create(ctx context.Context, input CreateInput) (Part, error) {
	input.PartNumber = strings.TrimSpace(input.PartNumber)
	input.Name = strings.TrimSpace(input.Name)
	input.Barcode = trimOptional(input.Barcode)
	input.Location = trimOptional(input.Location)
	switch {
	case input.PartNumber == "":
		return Part{}, fmt.Errorf("%w: part number required", ErrInvalidPart)
	case input.Name == "":
		return Part{}, fmt.Errorf("%w: name required", ErrInvalidPart)
	case input.InitialQuantity < 0:
		return Part{}, fmt.Errorf("%w: initial quantity must be >= 0", ErrInvalidPart)
	case input.ReorderThreshold < 0:
		return Part{}, fmt.Errorf("%w: reorder threshold must be >= 0", ErrInvalidPart)
	}
	if err := validatePrices(input.CostPrice, input.SellPrice); err != nil {
		return Part{}, err
	}
	part := Part{
		PartNumber:       input.PartNumber,
		Name:             input.Name,
		Quantity:         input.InitialQuantity,
		InitialQuantity:  input.InitialQuantity,
		CostPrice:        input.CostPrice,
		SellPrice:        input.SellPrice,
		ReorderThreshold: input.ReorderThreshold,
		Location:         input.Location,
		Barcode:          input.Barcode,
	}
	created, err := s.repo.Create(ctx, part)
	if err != nil {
		return Part{}, err
	}
	return withFlags(created), nil
}

// Update patches catalog fields. Quantity cannot be changed here.
func (s *Service) Update(ctx context.Context, id int64, input UpdateInput) (Part, error) {
	if id <= 0 {
		return Part{}, ErrPartNotFound
	}
	if input.Name != nil {
		name := strings.TrimSpace(*input.Name)
		if name == "" {
			return Part{}, fmt.Errorf("%w: name required", ErrInvalidPart)
		}
		input.Name = &name
	}
	if input.ReorderThreshold != nil && *input.ReorderThreshold < 0 {
		return Part{}, fmt.Errorf("%w: reorder threshold must be >= 0", ErrInvalidPart)
	}
	if err := validatePrices(input.CostPrice, input.SellPrice); err != nil {
		return Part{}, err
	}
	input.Barcode = trimOptional(input.Barcode)
	updated, err := s.repo.Update(ctx, id, input)
	if err != nil {
		return Part{}, err
	}
	return withFlags(updated), nil
}

// Get loads a part.
func (s *Service) Get(ctx context.Context, id int64) (Part, error) {
	if id <= 0 {
		return Part{}, ErrPartNotFound
	}
	p, err := s.repo.Get(ctx, id)
	if err != nil {
		return Part{}, err
	}
	return withFlags(p), nil
}

// List returns a page of parts and the total count.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Part, int, error) {
	if filter.PerPage <= 0 || filter.PerPage > 200 {
		filter.PerPage = 50
	}
	if filter.Page <= 0 {
		filter.Page = 1
	}
	filter.Search = strings.TrimSpace(filter.Search)
	items, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	for i := range items {
		items[i] = withFlags(items[i])
	}
	return items, total, nil
}

// ResolveScan maps a scanned string to exactly one part, matching barcode
// first and part number second. It never falls back to fuzzy matching.
func (s *Service) ResolveScan(ctx context.Context, code string) (Part, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return Part{}, fmt.Errorf("%w: scan code required", ErrInvalidPart)
	}
	p, err := s.repo.FindByBarcode(ctx, code)
	if err == nil {
		return withFlags(p), nil
	}
	if !errors.Is(err, ErrPartNotFound) {
		return Part{}, err
	}
	p, err = s.repo.FindByPartNumber(ctx, code)
	if err != nil {
		return Part{}, err
	}
	return withFlags(p), nil
}

// Suggest ranks catalog entries close to free text.
func (s *Service) Suggest(ctx context.Context, text string) ([]Suggestion, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: search text required", ErrInvalidPart)
	}
	candidates, err := s.repo.Candidates(ctx)
	if err != nil {
		return nil, err
	}
	return rank(text, candidates, s.cfg.MaxDistance, s.cfg.MaxSuggestions), nil
}

func validatePrices(prices ...*decimal.Decimal) error {
	for _, p := range prices {
		if p != nil && p.IsNegative() {
			return fmt.Errorf("%w: prices must be >= 0", ErrInvalidPart)
		}
	}
	return nil
}

func trimOptional(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

func withFlags(p Part) Part {
	p.LowStock = p.IsLowStock()
	return p
}
