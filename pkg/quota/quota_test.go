package quota

import (
	"strconv"
	"testing"
	"time"
)

func TestWindowSeconds(t *testing.T) {
	tests := []struct {
		w    Window
		want int64
	}{
		{Hourly(), 3600},
		{Daily(), 86400},
		{Weekly(), 604800},
		{Monthly(), 2592000},
		{Custom(90 * time.Second), 90},
	}
	for _, tt := range tests {
		if got := tt.w.Seconds(); got != tt.want {
			t.Errorf("%s: Seconds() = %d, want %d", tt.w.Label(), got, tt.want)
		}
	}
}

func TestWindowBucketEpochAligned(t *testing.T) {
	// 2025-06-02T09:30:45Z = 1748856645.
	now := time.Date(2025, 6, 2, 9, 30, 45, 0, time.UTC)

	if got := Hourly().Bucket(now); got != now.Unix()/3600 {
		t.Errorf("hourly bucket = %d", got)
	}

	// Same bucket across the hour, different after.
	later := now.Add(20 * time.Minute)
	next := now.Add(time.Hour)
	if Hourly().Bucket(now) != Hourly().Bucket(later) {
		t.Error("same hour produced different buckets")
	}
	if Hourly().Bucket(now) == Hourly().Bucket(next) {
		t.Error("next hour produced the same bucket")
	}
}

func TestWindowRemaining(t *testing.T) {
	now := time.Date(2025, 6, 2, 9, 30, 0, 0, time.UTC)
	if got := Hourly().Remaining(now); got != 30*time.Minute {
		t.Errorf("Remaining = %v, want 30m", got)
	}

	// On a boundary the full window remains.
	boundary := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	if got := Hourly().Remaining(boundary); got != time.Hour {
		t.Errorf("Remaining at boundary = %v, want 1h", got)
	}
}

func TestCounterKey(t *testing.T) {
	now := time.Date(2025, 6, 2, 9, 30, 45, 0, time.UTC)
	k := CounterKey("alerts", "acme", Hourly(), now)

	if k.Namespace != "alerts" || k.Tenant != "acme" {
		t.Errorf("scope = %s/%s", k.Namespace, k.Tenant)
	}
	want := "hourly:" + strconv.FormatInt(now.Unix()/3600, 10)
	if k.ID != want {
		t.Errorf("ID = %s, want %s", k.ID, want)
	}

	// Keys within a bucket collide; across buckets they do not.
	same := CounterKey("alerts", "acme", Hourly(), now.Add(10*time.Minute))
	if same.String() != k.String() {
		t.Error("same bucket produced different keys")
	}
	next := CounterKey("alerts", "acme", Hourly(), now.Add(time.Hour))
	if next.String() == k.String() {
		t.Error("next bucket produced the same key")
	}
}

func TestPolicyValidate(t *testing.T) {
	valid := func() *Policy {
		return &Policy{
			Namespace:  "alerts",
			Tenant:     "acme",
			MaxActions: 100,
			Window:     Hourly(),
			Overage:    Overage{Behavior: OverageBlock},
			Enabled:    true,
		}
	}

	if err := valid().Validate(); err != nil {
		t.Fatalf("valid policy rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Policy)
	}{
		{"missing namespace", func(p *Policy) { p.Namespace = "" }},
		{"missing tenant", func(p *Policy) { p.Tenant = "" }},
		{"zero max", func(p *Policy) { p.MaxActions = 0 }},
		{"bad window unit", func(p *Policy) { p.Window = Window{Unit: "fortnightly"} }},
		{"custom without seconds", func(p *Policy) { p.Window = Window{Unit: UnitCustom} }},
		{"bad overage", func(p *Policy) { p.Overage = Overage{Behavior: "explode"} }},
		{"degrade without fallback", func(p *Policy) { p.Overage = Overage{Behavior: OverageDegrade} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := valid()
			tt.mutate(p)
			if err := p.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
