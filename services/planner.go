package services

import (
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"

	"autoscout-scraper/models"
	"autoscout-scraper/utils"
)

// ErrInvalidPlan is the root of every planner rejection.
var ErrInvalidPlan = eris.New("planner: invalid search")

var validate = validator.New()

// Planner turns the origin set and search filters into the concrete query
// list. Overlap between neighbouring radius circles is expected; the
// cleaner removes the resulting duplicate listings by id.
type Planner struct {
	logger *utils.Logger
}

// NewPlanner creates a Planner with the given logger.
func NewPlanner(logger *utils.Logger) *Planner {
	return &Planner{logger: logger}
}

// Plan returns one query per origin, in origin order, all sharing radius and
// filters. It fails before any fetch work when the input is unusable.
func (p *Planner) Plan(origins []models.Origin, radius int, filters models.SearchFilters) ([]models.SearchQuery, error) {
	if len(origins) == 0 {
		return nil, eris.Wrap(ErrInvalidPlan, "origin set is empty")
	}
	if radius <= 0 {
		return nil, eris.Wrapf(ErrInvalidPlan, "radius must be positive, got %d", radius)
	}

	if err := defaults.Set(&filters); err != nil {
		return nil, eris.Wrap(err, "planner: apply filter defaults")
	}
	if err := validate.Struct(filters); err != nil {
		return nil, eris.Wrapf(ErrInvalidPlan, "filters: %v", err)
	}
	if filters.YearFrom > 0 && filters.YearTo > 0 && filters.YearFrom > filters.YearTo {
		return nil, eris.Wrapf(ErrInvalidPlan, "year range %d-%d is inverted", filters.YearFrom, filters.YearTo)
	}
	if filters.PowerFrom > 0 && filters.PowerTo > 0 && filters.PowerFrom > filters.PowerTo {
		return nil, eris.Wrapf(ErrInvalidPlan, "power range %d-%d is inverted", filters.PowerFrom, filters.PowerTo)
	}

	queries := make([]models.SearchQuery, 0, len(origins))
	for _, o := range origins {
		if o.Key == "" {
			return nil, eris.Wrapf(ErrInvalidPlan, "origin %q has no key", o.Name)
		}
		queries = append(queries, models.SearchQuery{
			Origin:        o,
			Radius:        radius,
			SearchFilters: filters,
		})
	}

	p.logger.Info("[planner] Planned %d queries (%s %s, radius %d km)",
		len(queries), filters.Make, filters.Model, radius)
	return queries, nil
}
