// internal/core/domain/zones/scorer.go
package zones

import (
	"fmt"
	"math"

	"supply-demand-zone-engine/internal/types"
)

// Значения по умолчанию для скоринга и машины состояний
const (
	DefaultAgeHorizonBars    = 200
	DefaultWeakThreshold     = 3
	DefaultBreakTolerancePct = 0.5
)

// ScoreContext — контекст оценки зоны относительно текущего рынка
type ScoreContext struct {
	CurrentPrice       float64
	BarAgeCount        int     // возраст зоны в барах
	DistanceToPricePct float64 // расстояние до текущей цены, %
}

// ScorerParams — параметры скоринга и жизненного цикла
type ScorerParams struct {
	AgeHorizonBars    int     // горизонт возрастного затухания
	WeakThreshold     int     // после скольких тестов зона считается слабой
	BreakTolerancePct float64 // допуск на пробой полосы, %
	MaxZoneSizePct    float64 // для бонуса за компактность
}

// DefaultScorerParams возвращает параметры по умолчанию
func DefaultScorerParams() ScorerParams {
	return ScorerParams{
		AgeHorizonBars:    DefaultAgeHorizonBars,
		WeakThreshold:     DefaultWeakThreshold,
		BreakTolerancePct: DefaultBreakTolerancePct,
		MaxZoneSizePct:    DefaultMaxZoneSizePct,
	}
}

// Validate проверяет параметры скоринга
func (p ScorerParams) Validate() error {
	if p.AgeHorizonBars <= 0 {
		return fmt.Errorf("AGE_HORIZON_BARS должен быть положительным")
	}
	if p.WeakThreshold < 1 {
		return fmt.Errorf("WEAK_THRESHOLD должен быть ≥ 1")
	}
	if p.BreakTolerancePct <= 0 {
		return fmt.Errorf("BREAK_TOLERANCE_PCT должен быть положительным")
	}
	if p.MaxZoneSizePct <= 0 {
		return fmt.Errorf("MAX_ZONE_SIZE_PCT должен быть положительным")
	}
	return nil
}

// Scorer вычисляет силу зоны 0-100 и классифицирует её состояние.
// Чистая функция от атрибутов зоны, числа тестов и возраста —
// никакого скрытого мутабельного состояния.
type Scorer struct {
	params ScorerParams
}

// NewScorer создаёт скорер с валидацией параметров
func NewScorer(params ScorerParams) (*Scorer, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Scorer{params: params}, nil
}

// Params возвращает параметры скорера
func (s *Scorer) Params() ScorerParams {
	return s.params
}

// Score вычисляет силу зоны и её состояние.
//
// Компоненты (взвешенная сумма, обрезается в 0..100):
//   - объём: min(volume_ratio, 5) * 6 — до 30 баллов, кап против выбросов
//   - свежесть: +30 если зона ни разу не тестировалась
//   - возраст: +15 * max(0, 1 - age/горизонт) — новые зоны сильнее
//   - компактность: +15 * max(0, 1 - height%/max%) — узкие зоны сильнее
//   - импульс: +20 * min(1, impulse/3)
//   - штраф за тесты: -15 за каждый тест
func (s *Scorer) Score(zone types.Zone, sctx ScoreContext) (int, types.ZoneState) {
	p := s.params

	volumeComponent := math.Min(zone.VolumeRatio, 5.0) * 6

	freshness := 0.0
	if zone.TestCount == 0 {
		freshness = 30
	}

	ageDecay := 15 * math.Max(0, 1-float64(sctx.BarAgeCount)/float64(p.AgeHorizonBars))

	tightness := 15 * math.Max(0, 1-zone.HeightPct()/p.MaxZoneSizePct)

	impulseBonus := 20 * math.Min(1, zone.ImpulseMultiple/3)

	testPenalty := 15 * float64(zone.TestCount)

	raw := volumeComponent + freshness + ageDecay + tightness + impulseBonus - testPenalty
	score := int(math.Round(math.Max(0, math.Min(100, raw))))

	return score, s.classifyState(zone)
}

// classifyState выводит состояние из счётчика тестов, никогда не откатывая
// уже достигнутое состояние (переходы монотонны).
func (s *Scorer) classifyState(zone types.Zone) types.ZoneState {
	if zone.State == types.ZoneStateBroken {
		return types.ZoneStateBroken
	}

	derived := types.ZoneStateFresh
	switch {
	case zone.TestCount >= s.params.WeakThreshold:
		derived = types.ZoneStateWeak
	case zone.TestCount > 0:
		derived = types.ZoneStateTested
	}

	// Состояние не двигается назад
	if !types.CanTransition(zone.State, derived) {
		return zone.State
	}
	return derived
}

// ApplyBounce регистрирует отскок: инкремент счётчика тестов и
// продвижение состояния FRESH → TESTED → WEAK по порогу.
func (s *Scorer) ApplyBounce(zone *types.Zone) {
	if zone.State == types.ZoneStateBroken {
		return
	}
	zone.TestCount++
	zone.State = s.classifyState(*zone)
}

// ApplyBreak помечает зону пробитой. BROKEN — терминальное состояние:
// зона исключается из мониторинга, но физически не удаляется.
func (s *Scorer) ApplyBreak(zone *types.Zone) {
	zone.State = types.ZoneStateBroken
	zone.IsActive = false
}

// IsBreakout проверяет, закрылась ли цена решительно за полосой зоны —
// дальше допуска BreakTolerancePct в "неправильную" сторону.
func (s *Scorer) IsBreakout(zone types.Zone, price float64) bool {
	tol := s.params.BreakTolerancePct / 100
	if zone.Type == types.ZoneTypeDemand {
		return price < zone.Bottom*(1-tol)
	}
	return price > zone.Top*(1+tol)
}
