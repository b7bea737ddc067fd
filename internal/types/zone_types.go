// internal/types/zone_types.go
package types

import "time"

// Bar — закрытая OHLCV свеча. Бары неизменяемы, движок их никогда не мутирует.
type Bar struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// Tick — последняя цена по символу
type Tick struct {
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

// ZoneType — тип зоны
type ZoneType string

const (
	ZoneTypeSupply ZoneType = "SUPPLY"
	ZoneTypeDemand ZoneType = "DEMAND"
)

// ZoneState — состояние жизненного цикла зоны.
// Переходы строго монотонны: FRESH → TESTED → WEAK → BROKEN, назад не бывает.
type ZoneState string

const (
	ZoneStateFresh  ZoneState = "FRESH"
	ZoneStateTested ZoneState = "TESTED"
	ZoneStateWeak   ZoneState = "WEAK"
	ZoneStateBroken ZoneState = "BROKEN"
)

// stateRank — порядковый номер состояния для проверки монотонности
var stateRank = map[ZoneState]int{
	ZoneStateFresh:  0,
	ZoneStateTested: 1,
	ZoneStateWeak:   2,
	ZoneStateBroken: 3,
}

// CanTransition проверяет, допустим ли переход from → to.
// Равные состояния допустимы (нет перехода), откат — нет.
func CanTransition(from, to ZoneState) bool {
	fr, ok1 := stateRank[from]
	tr, ok2 := stateRank[to]
	if !ok1 || !ok2 {
		return false
	}
	return tr >= fr
}

// Zone — зона спроса или предложения.
// Границы [Bottom, Top] после создания не меняются: повторная детекция
// создаёт новую зону с новым ID, а не мутирует старую.
type Zone struct {
	ID        string    `json:"id"`
	Symbol    string    `json:"symbol"`
	Timeframe string    `json:"timeframe"`
	Type      ZoneType  `json:"zone_type"`
	Bottom    float64   `json:"bottom"`
	Top       float64   `json:"top"`
	Midpoint  float64   `json:"midpoint"`
	FormedAt  time.Time `json:"formed_at"`

	// Метрики детекции — нужны для чистого пересчёта score
	VolumeRatio     float64 `json:"volume_ratio"`
	ImpulseMultiple float64 `json:"impulse_multiple"`

	StrengthScore int       `json:"strength_score"` // 0-100
	State         ZoneState `json:"state"`
	TestCount     int       `json:"test_count"` // монотонно неубывающий
	IsActive      bool      `json:"is_active"`
}

// Height возвращает высоту зоны в абсолютных ценах
func (z Zone) Height() float64 {
	return z.Top - z.Bottom
}

// HeightPct возвращает высоту зоны в процентах от средней цены
func (z Zone) HeightPct() float64 {
	if z.Midpoint <= 0 {
		return 0
	}
	return (z.Top - z.Bottom) / z.Midpoint * 100
}

// Contains проверяет, находится ли цена внутри полосы зоны
func (z Zone) Contains(price float64) bool {
	return price >= z.Bottom && price <= z.Top
}

// EventType — тип события взаимодействия цены с зоной
type EventType string

const (
	EventEnteringDemand EventType = "ENTERING_DEMAND"
	EventAtDemand       EventType = "AT_DEMAND"
	EventEnteringSupply EventType = "ENTERING_SUPPLY"
	EventAtSupply       EventType = "AT_SUPPLY"
	EventZoneBounce     EventType = "ZONE_BOUNCE"
	EventZoneBreak      EventType = "ZONE_BREAK"
)

// eventPriority — приоритет события при конфликте в одном цикле оценки:
// BREAK > BOUNCE > AT > ENTERING. Побеждает самое значимое.
var eventPriority = map[EventType]int{
	EventZoneBreak:      4,
	EventZoneBounce:     3,
	EventAtDemand:       2,
	EventAtSupply:       2,
	EventEnteringDemand: 1,
	EventEnteringSupply: 1,
}

// EventPriority возвращает приоритет типа события (больше — значимее)
func EventPriority(t EventType) int {
	return eventPriority[t]
}

// Event — неизменяемый факт взаимодействия цены с зоной.
// После отправки события не пересматриваются: коррекция — это новое событие.
type Event struct {
	EventID   string    `json:"event_id"`
	Symbol    string    `json:"symbol"`
	ZoneID    string    `json:"zone_id"`
	Type      EventType `json:"event_type"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

// DispatchResult — итог отправки пакета событий
type DispatchResult struct {
	Sent             int `json:"sent"`
	Failed           int `json:"failed"`
	SkippedDuplicate int `json:"skipped_duplicate"`
}
