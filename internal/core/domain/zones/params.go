// internal/core/domain/zones/params.go
package zones

import (
	"fmt"
	"strings"
)

// Значения по умолчанию для параметров детекции.
// Пороги объёма и импульса выбраны единым набором — в разных вариантах
// сканеров встречались 1.2–1.5, "правильные" значения — вопрос бэктеста.
const (
	DefaultLookbackPeriods          = 100
	DefaultSwingStrength            = 5
	DefaultMinZoneSizePct           = 0.3
	DefaultMaxZoneSizePct           = 10.0
	DefaultMinConsolidationBars     = 3
	DefaultMaxConsolidationBars     = 10
	DefaultMaxConsolidationRangePct = 5.0
	DefaultMinVolumeRatio           = 1.2
	DefaultMinImpulseMultiple       = 1.0
)

// DetectionParams — параметры детекции зон.
// Валидируются один раз при создании детектора, а не на каждый вызов.
type DetectionParams struct {
	LookbackPeriods          int     // сколько баров рассматриваем
	SwingStrength            int     // баров с каждой стороны для подтверждения свинга
	MinZoneSizePct           float64 // мин. высота зоны в % от цены
	MaxZoneSizePct           float64 // макс. высота зоны в % от цены
	MinConsolidationBars     int     // мин. баров в базе перед пробоем
	MaxConsolidationBars     int     // макс. баров в базе
	MaxConsolidationRangePct float64 // макс. диапазон цены внутри базы, %
	MinVolumeRatio           float64 // объём пробоя / объём базы
	MinImpulseMultiple       float64 // импульс / высота зоны
}

// DefaultDetectionParams возвращает параметры по умолчанию
func DefaultDetectionParams() DetectionParams {
	return DetectionParams{
		LookbackPeriods:          DefaultLookbackPeriods,
		SwingStrength:            DefaultSwingStrength,
		MinZoneSizePct:           DefaultMinZoneSizePct,
		MaxZoneSizePct:           DefaultMaxZoneSizePct,
		MinConsolidationBars:     DefaultMinConsolidationBars,
		MaxConsolidationBars:     DefaultMaxConsolidationBars,
		MaxConsolidationRangePct: DefaultMaxConsolidationRangePct,
		MinVolumeRatio:           DefaultMinVolumeRatio,
		MinImpulseMultiple:       DefaultMinImpulseMultiple,
	}
}

// Validate проверяет диапазоны всех параметров и собирает все ошибки разом
func (p DetectionParams) Validate() error {
	var errs []string

	if p.LookbackPeriods < 20 {
		errs = append(errs, "LOOKBACK_PERIODS должен быть ≥ 20")
	}
	if p.SwingStrength < 1 || p.SwingStrength > 20 {
		errs = append(errs, "SWING_STRENGTH должен быть в диапазоне 1-20")
	}
	if p.MinZoneSizePct <= 0 {
		errs = append(errs, "MIN_ZONE_SIZE_PCT должен быть положительным")
	}
	if p.MaxZoneSizePct <= p.MinZoneSizePct {
		errs = append(errs, "MAX_ZONE_SIZE_PCT должен быть больше MIN_ZONE_SIZE_PCT")
	}
	if p.MinConsolidationBars < 1 {
		errs = append(errs, "MIN_CONSOLIDATION_BARS должен быть ≥ 1")
	}
	if p.MaxConsolidationBars < p.MinConsolidationBars {
		errs = append(errs, "MAX_CONSOLIDATION_BARS должен быть ≥ MIN_CONSOLIDATION_BARS")
	}
	if p.MaxConsolidationRangePct <= 0 {
		errs = append(errs, "MAX_CONSOLIDATION_RANGE_PCT должен быть положительным")
	}
	if p.MinVolumeRatio < 1.0 {
		errs = append(errs, "MIN_VOLUME_RATIO должен быть ≥ 1.0")
	}
	if p.MinImpulseMultiple < 0 {
		errs = append(errs, "MIN_IMPULSE_MULTIPLE должен быть ≥ 0")
	}

	if len(errs) > 0 {
		return fmt.Errorf("некорректные параметры детекции: %s", strings.Join(errs, "; "))
	}
	return nil
}

// MinBarsRequired возвращает минимальное число баров для одного прохода детекции
func (p DetectionParams) MinBarsRequired() int {
	return 2*p.SwingStrength + p.MinConsolidationBars
}
