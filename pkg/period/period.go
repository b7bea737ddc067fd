// pkg/period/period.go
package period

import (
	"fmt"
	"strings"
	"time"
)

// Поддерживаемые таймфреймы
const (
	Period1m  = "1m"
	Period5m  = "5m"
	Period15m = "15m"
	Period30m = "30m"
	Period1h  = "1h"
	Period4h  = "4h"
	Period1d  = "1d"
)

// AllPeriods — все поддерживаемые таймфреймы
var AllPeriods = []string{
	Period1m,
	Period5m,
	Period15m,
	Period30m,
	Period1h,
	Period4h,
	Period1d,
}

var periodDurations = map[string]time.Duration{
	Period1m:  1 * time.Minute,
	Period5m:  5 * time.Minute,
	Period15m: 15 * time.Minute,
	Period30m: 30 * time.Minute,
	Period1h:  1 * time.Hour,
	Period4h:  4 * time.Hour,
	Period1d:  24 * time.Hour,
}

// StringToDuration конвертирует таймфрейм в длительность одного бара
func StringToDuration(period string) (time.Duration, error) {
	period = strings.ToLower(strings.TrimSpace(period))
	d, ok := periodDurations[period]
	if !ok {
		return 0, fmt.Errorf("неизвестный таймфрейм: %s (поддерживаются: %s)",
			period, strings.Join(AllPeriods, ", "))
	}
	return d, nil
}

// IsValidPeriod проверяет, поддерживается ли таймфрейм
func IsValidPeriod(period string) bool {
	_, err := StringToDuration(period)
	return err == nil
}

// DurationToString конвертирует длительность бара в таймфрейм
func DurationToString(d time.Duration) (string, error) {
	for p, pd := range periodDurations {
		if pd == d {
			return p, nil
		}
	}
	return "", fmt.Errorf("нет таймфрейма для длительности %v", d)
}
