package ratelimit

import (
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// mockClock implements Clock with controllable time.
type mockClock struct {
	mu  sync.Mutex
	now time.Time
}

func newMockClock() *mockClock {
	return &mockClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *mockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *mockClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestLimiter(clock Clock) *Limiter {
	return New(&Config{
		AttemptCooldown: 3 * time.Second,
		MaxPerHour:      5,
		MaxIPPerHour:    10,
		Clock:           clock,
	})
}

func TestCheckAttemptAllowsFirst(t *testing.T) {
	l := newTestLimiter(newMockClock())
	defer l.Close()

	res := l.CheckAttempt("user-1", "1.2.3.4")
	if !res.Allowed {
		t.Fatalf("first attempt should be allowed, got reason %q", res.Reason)
	}
}

func TestCooldownBetweenAttempts(t *testing.T) {
	clock := newMockClock()
	l := newTestLimiter(clock)
	defer l.Close()

	l.RecordAttempt("user-1", "1.2.3.4")

	res := l.CheckAttempt("user-1", "1.2.3.4")
	if res.Allowed {
		t.Fatal("attempt inside cooldown should be blocked")
	}
	if res.Reason != "cooldown" {
		t.Errorf("reason = %q, want cooldown", res.Reason)
	}
	if res.RetryAfter <= 0 || res.RetryAfter > 3*time.Second {
		t.Errorf("retry after = %v, want within (0, 3s]", res.RetryAfter)
	}

	clock.Advance(3 * time.Second)
	if res := l.CheckAttempt("user-1", "1.2.3.4"); !res.Allowed {
		t.Errorf("attempt after cooldown should be allowed, got reason %q", res.Reason)
	}
}

func TestHourlyLimitPerUser(t *testing.T) {
	clock := newMockClock()
	l := newTestLimiter(clock)
	defer l.Close()

	for i := 0; i < 5; i++ {
		if res := l.CheckAttempt("user-1", "1.2.3.4"); !res.Allowed {
			t.Fatalf("attempt %d should be allowed, got reason %q", i, res.Reason)
		}
		l.RecordAttempt("user-1", "1.2.3.4")
		clock.Advance(5 * time.Second)
	}

	res := l.CheckAttempt("user-1", "1.2.3.4")
	if res.Allowed {
		t.Fatal("sixth attempt within the hour should be blocked")
	}
	if res.Reason != "hourly_limit" {
		t.Errorf("reason = %q, want hourly_limit", res.Reason)
	}

	// Another user on the same IP is still fine.
	if res := l.CheckAttempt("user-2", "1.2.3.4"); !res.Allowed {
		t.Errorf("different user should be allowed, got reason %q", res.Reason)
	}

	clock.Advance(time.Hour)
	if res := l.CheckAttempt("user-1", "1.2.3.4"); !res.Allowed {
		t.Errorf("attempt after window reset should be allowed, got reason %q", res.Reason)
	}
}

func TestHourlyLimitPerIP(t *testing.T) {
	clock := newMockClock()
	l := newTestLimiter(clock)
	defer l.Close()

	for i := 0; i < 10; i++ {
		user := string(rune('a' + i))
		l.RecordAttempt(user, "5.6.7.8")
		clock.Advance(5 * time.Second)
	}

	res := l.CheckAttempt("fresh-user", "5.6.7.8")
	if res.Allowed {
		t.Fatal("attempt over the IP limit should be blocked")
	}
	if res.Reason != "ip_hourly_limit" {
		t.Errorf("reason = %q, want ip_hourly_limit", res.Reason)
	}

	if res := l.CheckAttempt("fresh-user", "9.9.9.9"); !res.Allowed {
		t.Errorf("different IP should be allowed, got reason %q", res.Reason)
	}
}

func TestKeyNormalization(t *testing.T) {
	clock := newMockClock()
	l := newTestLimiter(clock)
	defer l.Close()

	l.RecordAttempt("User-1", "1.2.3.4")

	res := l.CheckAttempt("  user-1 ", "1.2.3.4")
	if res.Allowed {
		t.Fatal("case and whitespace variants should share a cooldown bucket")
	}
}

func TestCleanupDropsStaleEntries(t *testing.T) {
	clock := newMockClock()
	l := newTestLimiter(clock)
	defer l.Close()

	l.RecordAttempt("user-1", "1.2.3.4")
	clock.Advance(2 * time.Hour)
	l.cleanup()

	l.mu.RLock()
	users, ips := len(l.byUser), len(l.byIP)
	l.mu.RUnlock()
	if users != 0 || ips != 0 {
		t.Errorf("stale entries survived cleanup: users=%d ips=%d", users, ips)
	}
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		trustProxy bool
		want       string
	}{
		{
			name:       "direct connection",
			remoteAddr: "203.0.113.5:4312",
			want:       "203.0.113.5",
		},
		{
			name:       "spoofed header ignored without proxy trust",
			remoteAddr: "203.0.113.5:4312",
			xff:        "198.51.100.7",
			want:       "203.0.113.5",
		},
		{
			name:       "forwarded header honored with proxy trust",
			remoteAddr: "10.0.0.1:4312",
			xff:        "198.51.100.7",
			trustProxy: true,
			want:       "198.51.100.7",
		},
		{
			name:       "rightmost public IP wins",
			remoteAddr: "10.0.0.1:4312",
			xff:        "198.51.100.7, 203.0.113.9, 192.168.0.2",
			trustProxy: true,
			want:       "203.0.113.9",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("POST", "/api/v1/bookings", nil)
			r.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			if got := GetClientIP(r, tt.trustProxy); got != tt.want {
				t.Errorf("GetClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}
