package engine

import (
	"context"
	"errors"
	"testing"

	"stagehand/internal/domain"
)

func TestAdmit(t *testing.T) {
	cases := []struct {
		name      string
		used      int
		ceiling   int
		requested int
		want      error
	}{
		{"under ceiling", 2, 3, 1, nil},
		{"exactly at ceiling", 3, 3, 1, domain.ErrQuotaExceeded},
		{"over ceiling", 5, 3, 1, domain.ErrQuotaExceeded},
		{"batch fits", 7, 10, 3, nil},
		{"batch partially over", 9, 10, 3, domain.ErrQuotaExceeded},
		{"batch exactly fills", 7, 10, 3, nil},
		{"unbounded tier", 100000, domain.UnboundedCeiling, 50, nil},
		{"zero requested", 0, 10, 0, domain.ErrInvalidAsset},
		{"negative requested", 0, 10, -1, domain.ErrInvalidAsset},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Admit(tc.used, tc.ceiling, tc.requested)
			if !errors.Is(got, tc.want) && !(got == nil && tc.want == nil) {
				t.Fatalf("Admit(%d, %d, %d) = %v, want %v", tc.used, tc.ceiling, tc.requested, got, tc.want)
			}
		})
	}
}

func TestAdmitPerTierCeilings(t *testing.T) {
	cases := []struct {
		plan domain.PlanType
		used int
		want error
	}{
		{domain.PlanTrial, 2, nil},
		{domain.PlanTrial, 3, domain.ErrQuotaExceeded},
		{domain.PlanBasic, 9, nil},
		{domain.PlanBasic, 10, domain.ErrQuotaExceeded},
		{domain.PlanStandard, 49, nil},
		{domain.PlanStandard, 50, domain.ErrQuotaExceeded},
		{domain.PlanPro, 10000, nil},
		{domain.PlanEnterprise, 10000, nil},
	}
	for _, tc := range cases {
		got := Admit(tc.used, tc.plan.Ceiling(), 1)
		if !errors.Is(got, tc.want) && !(got == nil && tc.want == nil) {
			t.Errorf("plan %s used %d: got %v, want %v", tc.plan, tc.used, got, tc.want)
		}
	}
}

func TestProfileCacheGetCachesUntilRefresh(t *testing.T) {
	repo := &fakeProfiles{profile: domain.Profile{PlanType: domain.PlanBasic, GenerationCount: 4}}
	cache := NewProfileCache(repo)

	ctx := context.Background()
	if _, err := cache.Get(ctx, "u1"); err != nil {
		t.Fatal(err)
	}
	if _, err := cache.Get(ctx, "u1"); err != nil {
		t.Fatal(err)
	}
	if got := repo.readCount(); got != 1 {
		t.Fatalf("expected 1 authoritative read after two Gets, got %d", got)
	}

	repo.mu.Lock()
	repo.profile.GenerationCount = 5
	repo.mu.Unlock()

	p, err := cache.Refresh(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if p.GenerationCount != 5 {
		t.Fatalf("refresh did not replace the cached record: count %d", p.GenerationCount)
	}
	if got := repo.readCount(); got != 2 {
		t.Fatalf("expected 2 authoritative reads, got %d", got)
	}
}
