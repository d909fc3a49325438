package proxy

import "testing"

func TestNextProxy_RoundRobin(t *testing.T) {
	r := NewRotator([]string{"http://p1:8080", "http://p2:8080"}, nil, 1)

	got := []string{r.NextProxy(), r.NextProxy(), r.NextProxy()}
	if got[0] != "http://p1:8080" || got[1] != "http://p2:8080" || got[2] != "http://p1:8080" {
		t.Fatalf("expected round robin, got %v", got)
	}
}

func TestNextProxy_EmptyPoolYieldsDirect(t *testing.T) {
	r := NewRotator(nil, nil, 1)
	if got := r.NextProxy(); got != "" {
		t.Fatalf("expected empty proxy for direct connection, got %q", got)
	}
}

func TestNextUserAgent_AlwaysNonEmpty(t *testing.T) {
	r := NewRotator(nil, nil, 1)
	for i := 0; i < 20; i++ {
		if ua := r.NextUserAgent(); ua == "" {
			t.Fatalf("expected a user agent from the built-in list")
		}
	}
}

func TestNextUserAgent_UsesConfiguredList(t *testing.T) {
	r := NewRotator(nil, []string{"custom-agent/1.0"}, 1)
	if ua := r.NextUserAgent(); ua != "custom-agent/1.0" {
		t.Fatalf("expected configured agent, got %q", ua)
	}
}
