package policy

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/asakaida/portaria/internal/entities"
	"github.com/asakaida/portaria/pkg/cache/memorycache"
)

func academic(id int64, polo string, start, end [3]int) *entities.PeriodInstance {
	return &entities.PeriodInstance{
		ID:            id,
		PeriodType:    entities.PeriodAcademic,
		InstitutionID: "inst-1",
		PoloID:        polo,
		StartDate:     day(start[0], time.Month(start[1]), start[2]),
		EndDate:       day(end[0], time.Month(end[1]), end[2]),
	}
}

func idOf(p *entities.PeriodInstance) int64 {
	if p == nil {
		return 0
	}
	return p.ID
}

func TestPeriodResolver_Resolve(t *testing.T) {
	repo := &mockPeriodRepository{instances: []*entities.PeriodInstance{
		academic(1, "", [3]int{2024, 8, 1}, [3]int{2024, 12, 15}),
		academic(2, "", [3]int{2025, 2, 10}, [3]int{2025, 6, 30}),
		academic(3, "", [3]int{2025, 8, 4}, [3]int{2025, 12, 12}),
	}}
	resolver := NewPeriodResolver(repo, nil, 0)

	tests := []struct {
		name                        string
		today                       [3]int
		wantCur, wantPrev, wantNext int64
	}{
		{name: "inside a period", today: [3]int{2025, 3, 1}, wantCur: 2},
		{name: "first day is current", today: [3]int{2025, 2, 10}, wantCur: 2},
		{name: "last day is current", today: [3]int{2025, 6, 30}, wantCur: 2},
		{name: "between periods", today: [3]int{2025, 7, 15}, wantPrev: 2, wantNext: 3},
		{name: "before all periods", today: [3]int{2024, 1, 1}, wantNext: 1},
		{name: "after all periods", today: [3]int{2026, 1, 1}, wantPrev: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolver.Resolve(context.Background(), "inst-1", "", entities.PeriodAcademic,
				day(tt.today[0], time.Month(tt.today[1]), tt.today[2]))
			if err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			if idOf(got.Current) != tt.wantCur || idOf(got.Previous) != tt.wantPrev || idOf(got.Next) != tt.wantNext {
				t.Errorf("Resolve() = current %d previous %d next %d, want %d %d %d",
					idOf(got.Current), idOf(got.Previous), idOf(got.Next), tt.wantCur, tt.wantPrev, tt.wantNext)
			}
		})
	}
}

func TestPeriodResolver_NoInstances(t *testing.T) {
	resolver := NewPeriodResolver(&mockPeriodRepository{}, nil, 0)

	got, err := resolver.Resolve(context.Background(), "inst-1", "", entities.PeriodCertification, day(2025, 3, 1))
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if !got.Empty() {
		t.Errorf("Resolve() = %+v, want empty", got)
	}
}

func TestPeriodResolver_OverlappingCurrent(t *testing.T) {
	repo := &mockPeriodRepository{instances: []*entities.PeriodInstance{
		academic(10, "", [3]int{2025, 1, 1}, [3]int{2025, 12, 31}),
		academic(11, "", [3]int{2025, 3, 1}, [3]int{2025, 6, 30}),
		academic(12, "", [3]int{2025, 3, 1}, [3]int{2025, 5, 31}),
	}}
	resolver := NewPeriodResolver(repo, nil, 0)

	got, err := resolver.Resolve(context.Background(), "inst-1", "", entities.PeriodAcademic, day(2025, 4, 1))
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if idOf(got.Current) != 12 {
		t.Errorf("Resolve() current = %d, want 12 (latest start, then earliest end)", idOf(got.Current))
	}
}

func TestPeriodResolver_PoloScope(t *testing.T) {
	repo := &mockPeriodRepository{instances: []*entities.PeriodInstance{
		academic(1, "", [3]int{2025, 2, 1}, [3]int{2025, 6, 30}),
		academic(2, "polo-9", [3]int{2025, 3, 1}, [3]int{2025, 7, 31}),
	}}
	resolver := NewPeriodResolver(repo, nil, 0)
	ctx := context.Background()

	tests := []struct {
		name    string
		polo    string
		wantCur int64
	}{
		{name: "polo with own instances", polo: "polo-9", wantCur: 2},
		{name: "polo without own instances falls back", polo: "polo-1", wantCur: 1},
		{name: "no polo uses institution-wide", polo: "", wantCur: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolver.Resolve(ctx, "inst-1", tt.polo, entities.PeriodAcademic, day(2025, 3, 15))
			if err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			if idOf(got.Current) != tt.wantCur {
				t.Errorf("Resolve() current = %d, want %d", idOf(got.Current), tt.wantCur)
			}
		})
	}
}

func TestPeriodResolver_ReversedInstance(t *testing.T) {
	repo := &mockPeriodRepository{instances: []*entities.PeriodInstance{
		academic(7, "", [3]int{2025, 6, 30}, [3]int{2025, 2, 1}),
	}}
	resolver := NewPeriodResolver(repo, nil, 0)

	_, err := resolver.Resolve(context.Background(), "inst-1", "", entities.PeriodAcademic, day(2025, 3, 1))
	if !errors.Is(err, entities.ErrConfiguration) {
		t.Fatalf("Resolve() error = %v, want ErrConfiguration", err)
	}
	var cfgErr *entities.ConfigurationError
	if !errors.As(err, &cfgErr) || cfgErr.Source != "period_instance:7" {
		t.Errorf("Resolve() error source = %v, want period_instance:7", err)
	}
}

func TestPeriodResolver_StoreError(t *testing.T) {
	storeErr := errors.New("connection refused")
	resolver := NewPeriodResolver(&mockPeriodRepository{err: storeErr}, nil, 0)

	_, err := resolver.Resolve(context.Background(), "inst-1", "", entities.PeriodAcademic, day(2025, 3, 1))
	if !errors.Is(err, storeErr) {
		t.Errorf("Resolve() error = %v, want wrapped %v", err, storeErr)
	}
}

func TestPeriodResolver_Caching(t *testing.T) {
	repo := &mockPeriodRepository{instances: []*entities.PeriodInstance{
		academic(1, "", [3]int{2025, 2, 1}, [3]int{2025, 6, 30}),
	}}
	c := memorycache.New(&memorycache.Config{MaxSizeBytes: 1 << 20})
	resolver := NewPeriodResolver(repo, c, time.Minute)
	ctx := context.Background()

	// resolution against a different day must still be recomputed from the cached list
	first, err := resolver.Resolve(ctx, "inst-1", "", entities.PeriodAcademic, day(2025, 3, 1))
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	second, err := resolver.Resolve(ctx, "inst-1", "", entities.PeriodAcademic, day(2025, 7, 1))
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	if repo.callCount() != 1 {
		t.Errorf("ListInstances() called %d times, want 1", repo.callCount())
	}
	if idOf(first.Current) != 1 {
		t.Errorf("first Resolve() current = %d, want 1", idOf(first.Current))
	}
	if second.Current != nil || idOf(second.Previous) != 1 {
		t.Errorf("second Resolve() = current %d previous %d, want previous 1", idOf(second.Current), idOf(second.Previous))
	}
	if second.Previous.StartDate != day(2025, 2, 1) {
		t.Errorf("cached instance start = %s, want 2025-02-01", second.Previous.StartDate)
	}
}

func TestPeriodResolver_ConcurrentMisses(t *testing.T) {
	repo := &mockPeriodRepository{instances: []*entities.PeriodInstance{
		academic(1, "", [3]int{2025, 2, 1}, [3]int{2025, 6, 30}),
	}}
	c := memorycache.New(&memorycache.Config{MaxSizeBytes: 1 << 20})
	resolver := NewPeriodResolver(repo, c, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := resolver.Resolve(context.Background(), "inst-1", "", entities.PeriodAcademic, day(2025, 3, 1)); err != nil {
				t.Errorf("Resolve() error = %v", err)
			}
		}()
	}
	wg.Wait()

	// singleflight plus the cache keep the store from seeing every miss
	if n := repo.callCount(); n < 1 || n > 20 {
		t.Errorf("ListInstances() called %d times, want between 1 and 20", n)
	}
}

// blockingPeriodRepository holds every ListInstances call until release is
// closed or the call's context is done
type blockingPeriodRepository struct {
	instances []*entities.PeriodInstance
	started   chan struct{}
	release   chan struct{}
	once      sync.Once
}

func newBlockingPeriodRepository(instances ...*entities.PeriodInstance) *blockingPeriodRepository {
	return &blockingPeriodRepository{
		instances: instances,
		started:   make(chan struct{}),
		release:   make(chan struct{}),
	}
}

func (m *blockingPeriodRepository) ListInstances(ctx context.Context, institutionID, poloID string, periodType entities.PeriodType) ([]*entities.PeriodInstance, error) {
	m.once.Do(func() { close(m.started) })
	select {
	case <-m.release:
		return m.instances, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestPeriodResolver_CancelledCallerDoesNotFailOthers(t *testing.T) {
	repo := newBlockingPeriodRepository(academic(1, "", [3]int{2025, 2, 1}, [3]int{2025, 6, 30}))
	resolver := NewPeriodResolver(repo, nil, time.Minute)
	today := day(2025, 3, 1)

	type result struct {
		got *entities.ResolvedPeriods
		err error
	}
	resolveInto := func(ctx context.Context, out chan<- result) {
		got, err := resolver.Resolve(ctx, "inst-1", "", entities.PeriodAcademic, today)
		out <- result{got, err}
	}

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	defer cancelFirst()
	first := make(chan result, 1)
	go resolveInto(firstCtx, first)
	<-repo.started

	second := make(chan result, 1)
	go resolveInto(context.Background(), second)
	// let the second caller join the in-flight load
	time.Sleep(20 * time.Millisecond)

	cancelFirst()
	select {
	case res := <-first:
		if !errors.Is(res.err, context.Canceled) {
			t.Errorf("Resolve() for the cancelled caller error = %v, want context.Canceled", res.err)
		}
	case <-time.After(time.Second):
		t.Fatal("Resolve() for the cancelled caller did not return")
	}

	close(repo.release)
	select {
	case res := <-second:
		if res.err != nil {
			t.Fatalf("Resolve() for the other caller error = %v", res.err)
		}
		if idOf(res.got.Current) != 1 {
			t.Errorf("Resolve() current = %d, want 1", idOf(res.got.Current))
		}
	case <-time.After(time.Second):
		t.Fatal("Resolve() for the other caller did not return")
	}
}

func TestPeriodResolver_LoadTimeout(t *testing.T) {
	repo := newBlockingPeriodRepository()
	resolver := NewPeriodResolver(repo, nil, time.Minute)
	resolver.loadTimeout = 20 * time.Millisecond

	_, err := resolver.Resolve(context.Background(), "inst-1", "", entities.PeriodAcademic, day(2025, 3, 1))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Resolve() error = %v, want context.DeadlineExceeded", err)
	}
}

func TestPeriodResolver_CacheKeysDoNotCollide(t *testing.T) {
	instA := academic(1, "", [3]int{2025, 2, 1}, [3]int{2025, 6, 30})
	instA.InstitutionID = "a"
	instAB := academic(2, "", [3]int{2025, 2, 1}, [3]int{2025, 6, 30})
	instAB.InstitutionID = "a:b"

	repo := &mockPeriodRepository{instances: []*entities.PeriodInstance{instA, instAB}}
	c := memorycache.New(&memorycache.Config{MaxSizeBytes: 1 << 20})
	resolver := NewPeriodResolver(repo, c, time.Minute)
	today := day(2025, 3, 1)

	// institution "a" with polo "b:" and institution "a:b" without a polo
	got, err := resolver.Resolve(context.Background(), "a", "b:", entities.PeriodAcademic, today)
	if err != nil {
		t.Fatalf("Resolve(a, b:) error = %v", err)
	}
	if idOf(got.Current) != 1 {
		t.Errorf("Resolve(a, b:) current = %d, want 1", idOf(got.Current))
	}

	got, err = resolver.Resolve(context.Background(), "a:b", "", entities.PeriodAcademic, today)
	if err != nil {
		t.Fatalf("Resolve(a:b) error = %v", err)
	}
	if idOf(got.Current) != 2 {
		t.Errorf("Resolve(a:b) current = %d, want 2", idOf(got.Current))
	}
	if n := repo.callCount(); n != 2 {
		t.Errorf("ListInstances() called %d times, want 2", n)
	}
}
