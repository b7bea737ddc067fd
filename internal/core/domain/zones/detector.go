// internal/core/domain/zones/detector.go
package zones

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"

	"supply-demand-zone-engine/internal/types"
)

// swingKind — вид точки разворота
type swingKind int

const (
	swingHigh swingKind = iota
	swingLow
)

// swingPoint — точка разворота. Живёт только внутри одного прохода детекции.
type swingPoint struct {
	index int
	price float64
	kind  swingKind
}

// candidate — кандидат в зоны до фильтрации перекрытий
type candidate struct {
	zone        types.Zone
	volumeRatio float64
}

// Detector сканирует серию баров и находит зоны спроса/предложения.
// Чистый, синхронный, детерминированный: без часов, без случайности.
type Detector struct {
	params DetectionParams
}

// NewDetector создаёт детектор. Падает сразу на некорректных параметрах —
// это ошибка конфигурации, а не времени вызова.
func NewDetector(params DetectionParams) (*Detector, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Detector{params: params}, nil
}

// Params возвращает параметры детектора
func (d *Detector) Params() DetectionParams {
	return d.params
}

// DetectZones находит зоны в серии баров symbol/timeframe.
// bars должны идти по возрастанию времени. Недостаток истории —
// ожидаемое условие: возвращается пустой срез, а не ошибка.
func (d *Detector) DetectZones(symbol, timeframe string, bars []types.Bar) []types.Zone {
	p := d.params

	// Рассматриваем только хвост из LookbackPeriods баров
	if len(bars) > p.LookbackPeriods {
		bars = bars[len(bars)-p.LookbackPeriods:]
	}

	if len(bars) < p.MinBarsRequired() {
		return []types.Zone{}
	}

	swings := d.findSwings(bars)

	var candidates []candidate
	for _, sw := range swings {
		if c, ok := d.buildCandidate(symbol, timeframe, bars, sw); ok {
			candidates = append(candidates, c)
		}
	}

	return d.filterOverlaps(candidates)
}

// findSwings ищет подтверждённые свинг-хаи и свинг-лоу.
// Требуется заглядывание вперёд на SwingStrength баров, поэтому последние
// SwingStrength баров свинга дать не могут — это намеренный лаг, не баг.
func (d *Detector) findSwings(bars []types.Bar) []swingPoint {
	var swings []swingPoint
	n := len(bars)
	ss := d.params.SwingStrength

	for i := ss; i < n-ss; i++ {
		high := bars[i].High
		low := bars[i].Low
		isHigh := true
		isLow := true

		for j := 1; j <= ss; j++ {
			if bars[i-j].High >= high || bars[i+j].High >= high {
				isHigh = false
			}
			if bars[i-j].Low <= low || bars[i+j].Low <= low {
				isLow = false
			}
			if !isHigh && !isLow {
				break
			}
		}

		if isHigh {
			swings = append(swings, swingPoint{index: i, price: high, kind: swingHigh})
		}
		if isLow {
			swings = append(swings, swingPoint{index: i, price: low, kind: swingLow})
		}
	}
	return swings
}

// buildCandidate строит кандидата в зоны вокруг свинга.
// Последовательность проверок: консолидация → объём → импульс → размер.
// Любой сбой данных (нулевые объёмы, нулевая высота) просто отбрасывает
// кандидата — детектор никогда не паникует на кривых барах.
func (d *Detector) buildCandidate(symbol, timeframe string, bars []types.Bar, sw swingPoint) (candidate, bool) {
	p := d.params

	// 1. Поиск базы: самый длинный диапазон из MinConsolidationBars..MaxConsolidationBars
	// подряд идущих баров, заканчивающийся на свинге, чей high-low диапазон
	// укладывается в MaxConsolidationRangePct от цены свинга.
	consStart, consEnd, found := d.findConsolidation(bars, sw)
	if !found {
		return candidate{}, false
	}

	// Границы зоны — границы базы, а не только экстремум свинга:
	// одна свеча завышает точность полосы.
	bottom := bars[consStart].Low
	top := bars[consStart].High
	var consVolume float64
	for i := consStart; i <= consEnd; i++ {
		if bars[i].Low < bottom {
			bottom = bars[i].Low
		}
		if bars[i].High > top {
			top = bars[i].High
		}
		consVolume += bars[i].Volume
	}
	height := top - bottom
	if height <= 0 {
		return candidate{}, false
	}

	// 2. Подтверждение объёмом: средний объём пробоя против среднего объёма базы
	depStart := sw.index + 1
	depEnd := sw.index + p.SwingStrength // заглядывание гарантировано findSwings
	if depEnd >= len(bars) {
		depEnd = len(bars) - 1
	}
	if depStart > depEnd {
		return candidate{}, false
	}

	var depVolume float64
	for i := depStart; i <= depEnd; i++ {
		depVolume += bars[i].Volume
	}
	approach := consVolume / float64(consEnd-consStart+1)
	departure := depVolume / float64(depEnd-depStart+1)
	if approach <= 0 {
		// Нулевой объём базы не ошибка — кандидат просто не проходит проверку
		return candidate{}, false
	}
	volumeRatio := departure / approach
	if volumeRatio < p.MinVolumeRatio {
		return candidate{}, false
	}

	// 3. Подтверждение импульсом: величина хода от зоны после пробоя
	var move float64
	if sw.kind == swingLow {
		maxHigh := bars[depStart].High
		for i := depStart + 1; i <= depEnd; i++ {
			if bars[i].High > maxHigh {
				maxHigh = bars[i].High
			}
		}
		move = maxHigh - top
	} else {
		minLow := bars[depStart].Low
		for i := depStart + 1; i <= depEnd; i++ {
			if bars[i].Low < minLow {
				minLow = bars[i].Low
			}
		}
		move = bottom - minLow
	}
	if move < 0 {
		move = 0
	}
	impulse := move / height
	if impulse < p.MinImpulseMultiple {
		return candidate{}, false
	}

	// 4. Ограничения по размеру зоны относительно опорной цены
	midpoint := (bottom + top) / 2
	heightPct := height / midpoint * 100
	if heightPct < p.MinZoneSizePct || heightPct > p.MaxZoneSizePct {
		return candidate{}, false
	}

	zoneType := types.ZoneTypeDemand
	if sw.kind == swingHigh {
		zoneType = types.ZoneTypeSupply
	}
	formedAt := bars[consStart].Timestamp

	zone := types.Zone{
		ID:              zoneID(symbol, zoneType, formedAt.Unix(), bottom, top),
		Symbol:          symbol,
		Timeframe:       timeframe,
		Type:            zoneType,
		Bottom:          bottom,
		Top:             top,
		Midpoint:        midpoint,
		FormedAt:        formedAt,
		VolumeRatio:     volumeRatio,
		ImpulseMultiple: impulse,
		State:           types.ZoneStateFresh,
		TestCount:       0,
		IsActive:        true,
	}

	return candidate{zone: zone, volumeRatio: volumeRatio}, true
}

// findConsolidation ищет базу, заканчивающуюся на баре свинга.
// Перебор от самой длинной к самой короткой — берём первый валидный диапазон.
func (d *Detector) findConsolidation(bars []types.Bar, sw swingPoint) (start, end int, found bool) {
	p := d.params
	end = sw.index

	for length := p.MaxConsolidationBars; length >= p.MinConsolidationBars; length-- {
		start = end - length + 1
		if start < 0 {
			continue
		}

		lo := bars[start].Low
		hi := bars[start].High
		for i := start + 1; i <= end; i++ {
			if bars[i].Low < lo {
				lo = bars[i].Low
			}
			if bars[i].High > hi {
				hi = bars[i].High
			}
		}

		if sw.price <= 0 {
			return 0, 0, false
		}
		rangePct := (hi - lo) / sw.price * 100
		if rangePct <= p.MaxConsolidationRangePct {
			return start, end, true
		}
	}
	return 0, 0, false
}

// filterOverlaps убирает почти-дубликаты: среди зон одного типа,
// чьи полосы перекрываются больше чем на 50%, остаётся зона
// с большим сырым объёмным коэффициентом.
func (d *Detector) filterOverlaps(candidates []candidate) []types.Zone {
	if len(candidates) == 0 {
		return []types.Zone{}
	}

	// Стабильный порядок для детерминизма
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].zone.Bottom != candidates[j].zone.Bottom {
			return candidates[i].zone.Bottom < candidates[j].zone.Bottom
		}
		return candidates[i].zone.ID < candidates[j].zone.ID
	})

	dropped := make([]bool, len(candidates))
	for i := 0; i < len(candidates); i++ {
		if dropped[i] {
			continue
		}
		for j := i + 1; j < len(candidates); j++ {
			if dropped[j] {
				continue
			}
			zi, zj := candidates[i].zone, candidates[j].zone
			if zi.Type != zj.Type {
				continue
			}
			if OverlapFraction(zi, zj) <= 0.5 {
				continue
			}
			// Перекрытие больше половины — слабейшая выбывает
			if candidates[i].volumeRatio >= candidates[j].volumeRatio {
				dropped[j] = true
			} else {
				dropped[i] = true
				break
			}
		}
	}

	result := make([]types.Zone, 0, len(candidates))
	for i, c := range candidates {
		if !dropped[i] {
			result = append(result, c.zone)
		}
	}
	return result
}

// OverlapFraction — доля пересечения полос относительно меньшей из них
func OverlapFraction(a, b types.Zone) float64 {
	lo := a.Bottom
	if b.Bottom > lo {
		lo = b.Bottom
	}
	hi := a.Top
	if b.Top < hi {
		hi = b.Top
	}
	inter := hi - lo
	if inter <= 0 {
		return 0
	}
	smaller := a.Height()
	if b.Height() < smaller {
		smaller = b.Height()
	}
	if smaller <= 0 {
		return 0
	}
	return inter / smaller
}

// zoneID — стабильный непрозрачный идентификатор зоны:
// хэш от символа, типа, времени формирования и ценовой полосы.
func zoneID(symbol string, zoneType types.ZoneType, formedAtUnix int64, bottom, top float64) string {
	raw := fmt.Sprintf("%s|%s|%d|%.8f|%.8f", symbol, zoneType, formedAtUnix, bottom, top)
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])[:16]
}
