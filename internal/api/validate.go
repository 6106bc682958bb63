package api

import (
	"fmt"
	"time"

	"gasroute/internal/model"
)

func validateScheduleRequest(req *model.ScheduleRequest) error {
	if req.Date == "" {
		return fmt.Errorf("date is required (YYYY-MM-DD)")
	}
	if _, err := time.Parse("2006-01-02", req.Date); err != nil {
		return fmt.Errorf("invalid date %q: want YYYY-MM-DD", req.Date)
	}
	switch req.Mode {
	case "", "fast", "cost", "quality":
	default:
		return fmt.Errorf("invalid mode: %s (allowed: fast, cost, quality)", req.Mode)
	}
	if req.TimeBudgetMs < 0 {
		return fmt.Errorf("timeBudgetMs must be >= 0")
	}
	if req.HorizonDays < 0 {
		return fmt.Errorf("horizonDays must be >= 0")
	}
	return nil
}
