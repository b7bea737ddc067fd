// internal/core/domain/zones/detector_test.go
package zones

import (
	"testing"
	"time"

	"supply-demand-zone-engine/internal/types"
)

// demandScenarioBars строит серию с одной зоной спроса:
// нисходящий тренд → база из 4 баров → импульс вверх на повышенном объёме.
func demandScenarioBars() []types.Bar {
	rows := []struct {
		low, high, volume float64
	}{
		{110, 111, 100},
		{109, 110, 100},
		{108, 109, 100},
		{107, 108, 100},
		{106, 107, 100},
		{105, 106, 100},
		{104, 105, 100},
		{103, 104, 100},
		// База: 4 бара узкого диапазона
		{99.0, 100.5, 100},
		{99.2, 100.8, 100},
		{99.4, 100.6, 100},
		{98.8, 100.2, 100}, // свинг-лоу
		// Импульс вверх на объёме 2.5x
		{100.0, 102.0, 250},
		{101.0, 103.5, 250},
		{102.0, 104.5, 250},
		{103.0, 105.5, 250},
		{103.5, 106.0, 250},
		// Откат на низком объёме — свинг-хай не подтверждается объёмом
		{103.2, 105.5, 100},
		{103.0, 105.0, 100},
		{102.8, 104.8, 100},
		{103.0, 105.2, 100},
		{103.1, 105.4, 100},
	}

	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]types.Bar, len(rows))
	for i, r := range rows {
		bars[i] = types.Bar{
			Timestamp: start.Add(time.Duration(i) * time.Hour),
			Open:      (r.low + r.high) / 2,
			High:      r.high,
			Low:       r.low,
			Close:     (r.low + r.high) / 2,
			Volume:    r.volume,
		}
	}
	return bars
}

func newTestDetector(t *testing.T) *Detector {
	t.Helper()
	d, err := NewDetector(DefaultDetectionParams())
	if err != nil {
		t.Fatalf("NewDetector: %v", err)
	}
	return d
}

func TestDetectZonesDemandScenario(t *testing.T) {
	d := newTestDetector(t)
	bars := demandScenarioBars()

	zones := d.DetectZones("BTCUSDT", "1h", bars)
	if len(zones) != 1 {
		t.Fatalf("ожидалась 1 зона, получено %d", len(zones))
	}

	z := zones[0]
	if z.Type != types.ZoneTypeDemand {
		t.Errorf("ожидался тип DEMAND, получен %s", z.Type)
	}
	if z.Bottom != 98.8 || z.Top != 100.8 {
		t.Errorf("ожидалась полоса [98.8, 100.8], получена [%.4f, %.4f]", z.Bottom, z.Top)
	}
	if z.State != types.ZoneStateFresh {
		t.Errorf("новая зона должна быть FRESH, получено %s", z.State)
	}
	if z.TestCount != 0 {
		t.Errorf("новая зона должна иметь test_count 0, получено %d", z.TestCount)
	}
	if !z.IsActive {
		t.Error("новая зона должна быть активной")
	}
	if z.VolumeRatio < 2.49 || z.VolumeRatio > 2.51 {
		t.Errorf("ожидался volume_ratio ≈ 2.5, получен %.4f", z.VolumeRatio)
	}
	if z.ImpulseMultiple < 2.59 || z.ImpulseMultiple > 2.61 {
		t.Errorf("ожидался impulse ≈ 2.6, получен %.4f", z.ImpulseMultiple)
	}
	if !z.FormedAt.Equal(bars[8].Timestamp) {
		t.Errorf("зона должна формироваться с первого бара базы: %v != %v", z.FormedAt, bars[8].Timestamp)
	}
}

func TestDetectZonesDeterminism(t *testing.T) {
	d := newTestDetector(t)
	bars := demandScenarioBars()

	first := d.DetectZones("BTCUSDT", "1h", bars)
	second := d.DetectZones("BTCUSDT", "1h", bars)

	if len(first) != len(second) {
		t.Fatalf("повторная детекция дала другое число зон: %d != %d", len(first), len(second))
	}
	for i := range first {
		if first[i].ID != second[i].ID {
			t.Errorf("зона %d: ID не детерминирован: %s != %s", i, first[i].ID, second[i].ID)
		}
		if first[i] != second[i] {
			t.Errorf("зона %d: повторная детекция дала другую зону", i)
		}
	}
}

func TestDetectZonesInsufficientBars(t *testing.T) {
	d := newTestDetector(t)
	bars := demandScenarioBars()[:10] // меньше 2*5+3 баров

	zones := d.DetectZones("BTCUSDT", "1h", bars)
	if zones == nil {
		t.Fatal("ожидался пустой срез, получен nil")
	}
	if len(zones) != 0 {
		t.Errorf("при недостатке истории зон быть не должно, получено %d", len(zones))
	}
}

func TestDetectZonesBandInvariant(t *testing.T) {
	d := newTestDetector(t)

	for _, z := range d.DetectZones("ETHUSDT", "1h", demandScenarioBars()) {
		if z.Bottom >= z.Top {
			t.Errorf("зона %s: bottom %.4f не ниже top %.4f", z.ID, z.Bottom, z.Top)
		}
		mid := (z.Bottom + z.Top) / 2
		if z.Midpoint != mid {
			t.Errorf("зона %s: midpoint %.4f != %.4f", z.ID, z.Midpoint, mid)
		}
	}
}

func TestOverlapFraction(t *testing.T) {
	mk := func(bottom, top float64) types.Zone {
		return types.Zone{Bottom: bottom, Top: top, Midpoint: (bottom + top) / 2}
	}

	tests := []struct {
		name string
		a, b types.Zone
		want float64
	}{
		{"без пересечения", mk(100, 101), mk(102, 103), 0},
		{"полное вложение", mk(100, 110), mk(102, 104), 1},
		{"половина меньшей", mk(100, 102), mk(101, 103), 0.5},
		{"касание границ", mk(100, 101), mk(101, 102), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := OverlapFraction(tt.a, tt.b)
			if got != tt.want {
				t.Errorf("OverlapFraction = %.4f, ожидалось %.4f", got, tt.want)
			}
			// Симметричность
			if rev := OverlapFraction(tt.b, tt.a); rev != got {
				t.Errorf("несимметрично: %.4f != %.4f", rev, got)
			}
		})
	}
}

func TestFilterOverlapsDropsWeaker(t *testing.T) {
	d := newTestDetector(t)

	mk := func(id string, bottom, top, vr float64, zoneType types.ZoneType) candidate {
		return candidate{
			zone: types.Zone{
				ID: id, Type: zoneType,
				Bottom: bottom, Top: top, Midpoint: (bottom + top) / 2,
				VolumeRatio: vr,
			},
			volumeRatio: vr,
		}
	}

	// Две зоны спроса с перекрытием 75% — слабая по объёму выбывает
	result := d.filterOverlaps([]candidate{
		mk("weak", 99.0, 101.0, 1.5, types.ZoneTypeDemand),
		mk("strong", 99.5, 101.5, 2.5, types.ZoneTypeDemand),
	})
	if len(result) != 1 || result[0].ID != "strong" {
		t.Errorf("должна остаться сильная зона, получено %+v", result)
	}

	// Разные типы не конкурируют даже при полном перекрытии
	mixed := d.filterOverlaps([]candidate{
		mk("d", 99.0, 101.0, 1.5, types.ZoneTypeDemand),
		mk("s", 99.0, 101.0, 2.5, types.ZoneTypeSupply),
	})
	if len(mixed) != 2 {
		t.Errorf("зоны разных типов не фильтруются, получено %d", len(mixed))
	}
}

func TestDetectionParamsValidate(t *testing.T) {
	p := DefaultDetectionParams()
	if err := p.Validate(); err != nil {
		t.Fatalf("дефолтные параметры должны быть валидны: %v", err)
	}

	bad := DefaultDetectionParams()
	bad.SwingStrength = 0
	bad.MinZoneSizePct = 20
	bad.MaxZoneSizePct = 10
	if err := bad.Validate(); err == nil {
		t.Error("ожидалась ошибка валидации")
	}
}
