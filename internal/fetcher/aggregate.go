package fetcher

import (
	"github.com/jgoulah/gmpfetcher/internal/gmp"
	"github.com/jgoulah/gmpfetcher/pkg/models"
)

// ToIntervals maps API records onto intervals, keeping API order.
func ToIntervals(usages []gmp.Usage) []models.UsageInterval {
	intervals := make([]models.UsageInterval, 0, len(usages))
	for _, u := range usages {
		intervals = append(intervals, models.NewUsageInterval(u.StartTime, u.ConsumedKWh))
	}
	return intervals
}

// Aggregate sums intervals per calendar date. Totals are returned in the order
// each date is first seen, not calendar order.
func Aggregate(intervals []models.UsageInterval) []models.DailyTotal {
	totals := make([]models.DailyTotal, 0)
	index := make(map[string]int)
	for _, iv := range intervals {
		i, ok := index[iv.Date]
		if !ok {
			i = len(totals)
			index[iv.Date] = i
			totals = append(totals, models.DailyTotal{Date: iv.Date})
		}
		totals[i].TotalKWh += iv.UsageKWh
	}
	return totals
}
