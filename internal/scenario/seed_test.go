package scenario

import (
	"testing"
	"testing/fstest"
)

const onboardingYAML = `
subscription_required: true
steps:
  - id: a
    text: hi
`

func TestLoadSeeds(t *testing.T) {
	fsys := fstest.MapFS{
		"onboarding.yaml": {Data: []byte(onboardingYAML)},
		"promo.json":      {Data: []byte(`{"name":"spring-promo","is_active":false,"steps":[{"id":"p","type":"image","photo":"AgAD"}]}`)},
		"README.md":       {Data: []byte("ignored")},
		"nested/x.json":   {Data: []byte(`{}`)},
	}

	seeds, err := LoadSeeds(fsys)
	if err != nil {
		t.Fatalf("LoadSeeds: %v", err)
	}
	if len(seeds) != 2 {
		t.Fatalf("loaded %d seeds, want 2", len(seeds))
	}

	onboarding := seeds[0]
	if onboarding.Name != "onboarding" || !onboarding.IsActive || !onboarding.SubscriptionRequired {
		t.Fatalf("onboarding = %+v", onboarding)
	}
	g, err := Parse(onboarding.Definition)
	if err != nil || g.First().ID != "a" {
		t.Fatalf("onboarding definition %s: %v", onboarding.Definition, err)
	}

	promo := seeds[1]
	if promo.Name != "spring-promo" || promo.IsActive {
		t.Fatalf("promo = %+v", promo)
	}
}

func TestLoadSeedsRejectsInvalid(t *testing.T) {
	fsys := fstest.MapFS{
		"bad.json": {Data: []byte(`{"steps":[{"id":"a"},{"id":"a"}]}`)},
	}
	if _, err := LoadSeeds(fsys); err == nil {
		t.Fatal("expected duplicate id error")
	}
}
