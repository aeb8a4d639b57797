package reporting

import (
	"context"
	stderrors "errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/davidleathers/unit-kpi-backend/internal/domain/errors"
	"github.com/davidleathers/unit-kpi-backend/internal/domain/kpi"
	"github.com/davidleathers/unit-kpi-backend/internal/infrastructure/cache"
	"github.com/davidleathers/unit-kpi-backend/internal/service/fanout"
)

// fixtureSource serves deterministic rows keyed by unit, query and window.
type fixtureSource struct {
	units    []kpi.Unit
	totals   map[kpi.UnitID]map[string]kpi.Row
	series   map[kpi.UnitID]kpi.RawRows
	capacity map[kpi.UnitID]kpi.Row
	failing  map[kpi.UnitID]bool
	calls    int32
}

func windowKey(start, end string) string { return start + ".." + end }

func (s *fixtureSource) ListConnectedUnits(context.Context) ([]kpi.Unit, error) {
	return s.units, nil
}

func (s *fixtureSource) Query(_ context.Context, unit kpi.UnitID, name string, params kpi.QueryParams) (kpi.RawRows, error) {
	atomic.AddInt32(&s.calls, 1)
	if s.failing[unit] {
		return nil, stderrors.New("connection reset by peer")
	}

	switch {
	case strings.HasSuffix(name, "."+QueryTotals):
		key := windowKey(params.Start.Format(kpi.DateLayout), params.End.Format(kpi.DateLayout))
		if row, ok := s.totals[unit][key]; ok {
			return kpi.RawRows{row}, nil
		}
		return nil, nil
	case strings.HasSuffix(name, "."+QuerySeries):
		return s.series[unit], nil
	case strings.HasSuffix(name, "."+QueryCapacity):
		return kpi.RawRows{s.capacity[unit]}, nil
	}
	return nil, stderrors.New("unknown query " + name)
}

// mockSource is used where only the unit listing matters.
type mockSource struct {
	mock.Mock
}

func (m *mockSource) ListConnectedUnits(ctx context.Context) ([]kpi.Unit, error) {
	args := m.Called(ctx)
	units, _ := args.Get(0).([]kpi.Unit)
	return units, args.Error(1)
}

func (m *mockSource) Query(ctx context.Context, unit kpi.UnitID, name string, params kpi.QueryParams) (kpi.RawRows, error) {
	args := m.Called(ctx, unit, name, params)
	rows, _ := args.Get(0).(kpi.RawRows)
	return rows, args.Error(1)
}

// Jan 11 2025 at noon: ten commercial days of January have closed.
var testNow = time.Date(2025, 1, 11, 12, 0, 0, 0, time.UTC)

func companyFixture() *fixtureSource {
	day := func(d int) time.Time { return time.Date(2025, 1, d, 0, 0, 0, 0, time.UTC) }

	norteSeries := kpi.RawRows{}
	for d := 1; d <= 7; d++ {
		norteSeries = append(norteSeries, kpi.Row{
			"bucket":       day(d).Format(kpi.DateLayout),
			"revenue":      float64(100 * d),
			"transactions": int64(d),
		})
	}

	return &fixtureSource{
		units: []kpi.Unit{
			{ID: "u1", Name: "Hotel Norte"},
			{ID: "u2", Name: "Hotel Sul"},
		},
		totals: map[kpi.UnitID]map[string]kpi.Row{
			"u1": {
				windowKey("2025-01-01", "2025-01-07"): {"revenue": 1000.0, "transactions": int64(10), "roomNightsSold": int64(50), "roomNightsAvailable": int64(70)},
				windowKey("2024-12-25", "2024-12-31"): {"revenue": 800.0, "transactions": int64(8)},
				windowKey("2025-01-01", "2025-01-10"): {"revenue": 1500.0, "transactions": int64(15), "roomNightsSold": int64(60), "roomNightsAvailable": int64(100)},
			},
			"u2": {
				windowKey("2025-01-01", "2025-01-07"): {"revenue": 3000.0, "transactions": int64(30), "roomNightsSold": int64(20), "roomNightsAvailable": int64(70)},
				windowKey("2024-12-25", "2024-12-31"): {"revenue": 1200.0, "transactions": int64(12)},
				windowKey("2025-01-01", "2025-01-10"): {"revenue": 500.0, "transactions": int64(5), "roomNightsSold": int64(40), "roomNightsAvailable": int64(100)},
			},
		},
		series: map[kpi.UnitID]kpi.RawRows{
			"u1": norteSeries,
			"u2": {
				{"bucket": day(1), "revenue": 200.0},
				{"bucket": day(3), "revenue": 200.0},
				{"bucket": day(5), "revenue": 200.0},
				{"bucket": nil, "revenue": 999.0},
			},
		},
	}
}

func setupOrchestrator(t *testing.T, source UnitDataSource) (*Orchestrator, *cache.PeriodCache[*kpi.Report]) {
	logger := zaptest.NewLogger(t)
	clock := fixedClock{testNow}

	reportCache, err := cache.New[*kpi.Report](&cache.Config{MaxEntries: 50}, logger, cache.WithClock[*kpi.Report](clock))
	require.NoError(t, err)
	t.Cleanup(reportCache.Close)

	fetcher, err := fanout.NewFetcher(fanout.DefaultConfig(), logger, nil)
	require.NoError(t, err)

	calendar := kpi.NewCalendar(clock, time.UTC, kpi.DefaultDayStartHour)
	o, err := NewOrchestrator(source, reportCache, fetcher, calendar, &Config{MaxRangeDays: 366}, logger)
	require.NoError(t, err)

	return o, reportCache
}

func TestNewOrchestrator_RequiresDependencies(t *testing.T) {
	logger := zaptest.NewLogger(t)
	_, err := NewOrchestrator(nil, nil, nil, nil, nil, logger)
	assert.Error(t, err)
}

func TestGetUnifiedKpis_CompanyEndToEnd(t *testing.T) {
	source := companyFixture()
	o, _ := setupOrchestrator(t, source)
	ctx := context.Background()

	res, err := o.GetUnifiedKpis(ctx, "company", "2025-01-01", "2025-01-07", kpi.AllUnits)
	require.NoError(t, err)

	assert.False(t, res.FromCache)
	assert.Equal(t, "kpi:company:custom:2025-01-01:2025-01-07", res.CacheKey)

	report := res.Data
	require.NotNil(t, report)
	assert.NotEmpty(t, report.CalculationID)
	assert.Equal(t, kpi.GranularityDay, report.Granularity)
	assert.Len(t, report.Units, 2)

	assert.Equal(t, 4000.0, report.Current["revenue"])
	assert.Equal(t, 40.0, report.Current["transactions"])
	assert.Equal(t, 100.0, report.Current["averageTicket"])
	assert.Equal(t, 50.0, report.Current["occupancyRate"])
	assert.Equal(t, 28.57, report.Current["revPar"])

	require.NotNil(t, report.Previous)
	assert.Equal(t, 2000.0, report.Previous["revenue"])
	assert.Equal(t, 100.0, report.Previous["averageTicket"])

	require.NotNil(t, report.MonthToDate)
	assert.Equal(t, 2000.0, report.MonthToDate["revenue"])
	require.NotNil(t, report.Forecast)
	assert.Equal(t, 6200.0, report.Forecast["revenue"])

	byCompany := report.Charts["RevenueByCompany"]
	require.NotNil(t, byCompany)
	require.Len(t, byCompany.Series, 2)
	assert.Equal(t, []float64{100, 200, 300, 400, 500, 600, 700}, byCompany.Series[0].Data)
	assert.Equal(t, []float64{200, 0, 200, 0, 200, 0, 0}, byCompany.Series[1].Data)

	byDate := report.Charts["RevenueByDate"]
	require.NotNil(t, byDate)
	assert.Len(t, byDate.Categories, 7)
	require.Len(t, byDate.Series, 1)
	assert.Equal(t, []float64{300, 200, 500, 400, 700, 600, 700}, byDate.Series[0].Data)

	assert.Equal(t, 1000.0, report.ByUnit["u1"]["revenue"])
	assert.Equal(t, 100.0, report.ByUnit["u2"]["averageTicket"])
}

func TestGetUnifiedKpis_SecondCallServedFromCache(t *testing.T) {
	source := companyFixture()
	o, _ := setupOrchestrator(t, source)
	ctx := context.Background()

	first, err := o.GetUnifiedKpis(ctx, "company", "2025-01-01", "2025-01-07", kpi.AllUnits)
	require.NoError(t, err)
	calls := atomic.LoadInt32(&source.calls)

	second, err := o.GetUnifiedKpis(ctx, "company", "2025-01-01", "2025-01-07", kpi.AllUnits)
	require.NoError(t, err)

	assert.True(t, second.FromCache)
	assert.Zero(t, second.CalculationTimeMs)
	assert.Equal(t, first.CacheKey, second.CacheKey)
	assert.Equal(t, first.Data.CalculationID, second.Data.CalculationID)
	assert.Equal(t, first.Data.Current, second.Data.Current)
	assert.Equal(t, calls, atomic.LoadInt32(&source.calls))

	m := o.CacheMetrics(kpi.DomainCompany)
	assert.Equal(t, int64(1), m.Hits)
	assert.Equal(t, int64(1), m.Misses)
}

func TestGetUnifiedKpis_UnitScope(t *testing.T) {
	o, _ := setupOrchestrator(t, companyFixture())

	res, err := o.GetUnifiedKpis(context.Background(), "company", "2025-01-01", "2025-01-07", "u2")
	require.NoError(t, err)

	assert.Equal(t, "kpi:company:custom:2025-01-01:2025-01-07:unit:u2", res.CacheKey)
	require.Len(t, res.Data.Units, 1)
	assert.Equal(t, 3000.0, res.Data.Current["revenue"])
}

func TestGetUnifiedKpis_PartialFailure(t *testing.T) {
	source := companyFixture()
	source.failing = map[kpi.UnitID]bool{"u1": true}
	o, _ := setupOrchestrator(t, source)

	res, err := o.GetUnifiedKpis(context.Background(), "company", "2025-01-01", "2025-01-07", kpi.AllUnits)
	require.NoError(t, err)

	require.Len(t, res.Data.Units, 1)
	assert.Equal(t, kpi.UnitID("u2"), res.Data.Units[0].ID)
	assert.Equal(t, 3000.0, res.Data.Current["revenue"])
	assert.Len(t, res.Data.Charts["RevenueByCompany"].Series, 1)
}

func TestGetUnifiedKpis_TotalFailureIsNotCached(t *testing.T) {
	source := companyFixture()
	source.failing = map[kpi.UnitID]bool{"u1": true, "u2": true}
	o, reportCache := setupOrchestrator(t, source)

	_, err := o.GetUnifiedKpis(context.Background(), "company", "2025-01-01", "2025-01-07", kpi.AllUnits)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeNoUnitData))
	assert.Equal(t, 0, reportCache.Stats().TotalItems)
}

func TestGetUnifiedKpis_ConfigurationErrors(t *testing.T) {
	t.Run("no units connected", func(t *testing.T) {
		source := &mockSource{}
		source.On("ListConnectedUnits", mock.Anything).Return([]kpi.Unit{}, nil)
		o, reportCache := setupOrchestrator(t, source)

		_, err := o.GetUnifiedKpis(context.Background(), "bookings", "2025-01-01", "2025-01-07", kpi.AllUnits)
		require.Error(t, err)
		assert.True(t, errors.HasCode(err, errors.CodeNoUnitsConnected))
		assert.True(t, errors.IsType(err, errors.ErrorTypeConfiguration))
		assert.False(t, errors.IsRetryable(err))
		assert.Equal(t, 0, reportCache.Stats().TotalItems)

		source.AssertNotCalled(t, "Query", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("scoped unit not connected", func(t *testing.T) {
		o, _ := setupOrchestrator(t, companyFixture())

		_, err := o.GetUnifiedKpis(context.Background(), "company", "2025-01-01", "2025-01-07", "u9")
		assert.True(t, errors.HasCode(err, errors.CodeUnitNotConnected))
	})

	t.Run("listing fails", func(t *testing.T) {
		source := &mockSource{}
		source.On("ListConnectedUnits", mock.Anything).Return(nil, stderrors.New("pool closed"))
		o, _ := setupOrchestrator(t, source)

		_, err := o.GetUnifiedKpis(context.Background(), "company", "2025-01-01", "2025-01-07", kpi.AllUnits)
		assert.True(t, errors.IsType(err, errors.ErrorTypeInternal))
	})
}

func TestGetUnifiedKpis_Validation(t *testing.T) {
	o, _ := setupOrchestrator(t, companyFixture())
	ctx := context.Background()

	tests := []struct {
		name   string
		domain string
		start  string
		end    string
		code   string
	}{
		{"unknown domain", "spa", "2025-01-01", "2025-01-07", errors.CodeInvalidDomain},
		{"end before start", "company", "2025-01-07", "2025-01-01", errors.CodeInvalidTimeRange},
		{"range too long", "company", "2023-01-01", "2025-01-01", errors.CodeInvalidTimeRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := o.GetUnifiedKpis(ctx, tt.domain, tt.start, tt.end, kpi.AllUnits)
			require.Error(t, err)
			assert.True(t, errors.HasCode(err, tt.code))
			assert.Equal(t, 400, errors.GetStatusCode(err))
		})
	}

	_, err := o.GetUnifiedKpis(ctx, "company", "not-a-date", "2025-01-07", kpi.AllUnits)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestGetNamedKpis(t *testing.T) {
	source := companyFixture()
	o, _ := setupOrchestrator(t, source)

	res, err := o.GetNamedKpis(context.Background(), "company", "last_7_days", kpi.AllUnits)
	require.NoError(t, err)

	assert.Equal(t, "kpi:company:last_7_days", res.CacheKey)
	assert.Equal(t, "2025-01-04", res.Data.Range.Start.Format(kpi.DateLayout))
	assert.Equal(t, "2025-01-10", res.Data.Range.End.Format(kpi.DateLayout))

	_, err = o.GetNamedKpis(context.Background(), "company", "fortnight", kpi.AllUnits)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestInvalidateDomain(t *testing.T) {
	source := companyFixture()
	o, _ := setupOrchestrator(t, source)
	ctx := context.Background()

	_, err := o.GetUnifiedKpis(ctx, "company", "2025-01-01", "2025-01-07", kpi.AllUnits)
	require.NoError(t, err)
	_, err = o.GetNamedKpis(ctx, "company", "last_7_days", kpi.AllUnits)
	require.NoError(t, err)
	assert.Equal(t, 2, o.CacheStats().PerDomain[kpi.DomainCompany])

	assert.Equal(t, 1, o.InvalidateDomain(kpi.DomainCompany, kpi.Named(kpi.PeriodLast7Days)))
	assert.Equal(t, 1, o.InvalidateDomain(kpi.DomainCompany))

	res, err := o.GetUnifiedKpis(ctx, "company", "2025-01-01", "2025-01-07", kpi.AllUnits)
	require.NoError(t, err)
	assert.False(t, res.FromCache)
}

func TestGetUnifiedKpis_Governance(t *testing.T) {
	source := &fixtureSource{
		units: []kpi.Unit{{ID: "g1", Name: "Hotel Praia"}},
		totals: map[kpi.UnitID]map[string]kpi.Row{
			"g1": {
				windowKey("2025-01-01", "2025-01-07"): {
					"roomsCleaned":    int64(4),
					"cleaningSeconds": int64(7200),
					"occupiedSeconds": float64(10 * SecondsPerDay * 7 / 4),
					"checkouts":       int64(15),
				},
				windowKey("2024-12-25", "2024-12-31"): {"roomsCleaned": int64(2)},
			},
		},
		capacity: map[kpi.UnitID]kpi.Row{"g1": {"capacityUnits": int64(10)}},
	}
	o, _ := setupOrchestrator(t, source)

	res, err := o.GetUnifiedKpis(context.Background(), "governance", "2025-01-01", "2025-01-07", kpi.AllUnits)
	require.NoError(t, err)

	current := res.Data.Current
	assert.Equal(t, 30.0, current["averageCleaningMinutes"])
	assert.Equal(t, 25.0, current["occupancyRate"])
	assert.Equal(t, 1.5, current["turnover"])
	assert.Equal(t, 10.0, current["capacityUnits"])

	// the capacity stock is present on every window block
	assert.Equal(t, 10.0, res.Data.Previous["capacityUnits"])
	assert.Equal(t, 10.0, res.Data.Forecast["capacityUnits"])
}

func TestGetUnifiedKpis_PreviousOmittedWhenNoUnitHasData(t *testing.T) {
	source := companyFixture()
	for _, windows := range source.totals {
		delete(windows, windowKey("2024-12-25", "2024-12-31"))
	}
	o, _ := setupOrchestrator(t, source)

	res, err := o.GetUnifiedKpis(context.Background(), "company", "2025-01-01", "2025-01-07", kpi.AllUnits)
	require.NoError(t, err)

	assert.Nil(t, res.Data.Previous)
	assert.Equal(t, 4000.0, res.Data.Current["revenue"])
}

func TestGetUnifiedKpis_PreviousIgnoresNullRows(t *testing.T) {
	source := companyFixture()
	source.totals["u1"][windowKey("2024-12-25", "2024-12-31")] = kpi.Row{"revenue": nil, "transactions": nil}
	o, _ := setupOrchestrator(t, source)

	res, err := o.GetUnifiedKpis(context.Background(), "company", "2025-01-01", "2025-01-07", kpi.AllUnits)
	require.NoError(t, err)

	require.NotNil(t, res.Data.Previous)
	assert.Equal(t, 1200.0, res.Data.Previous["revenue"])
	assert.Equal(t, 100.0, res.Data.Previous["averageTicket"])
}
