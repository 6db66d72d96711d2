package probe

import (
	"context"
	"testing"
)

// =============================================================================
// Fallback Tests
// =============================================================================

func scripted(statuses map[string]Status, calls *[]string) Prober {
	return ProberFunc(func(ctx context.Context, ep Endpoint) Outcome {
		*calls = append(*calls, ep.URL)
		out := Outcome{ID: ep.ID, URL: ep.URL, Status: statuses[ep.URL], Tools: []Tool{}}
		if !out.Online() {
			out.Error = "failed " + ep.URL
		}
		return out
	})
}

func TestWithFallback(t *testing.T) {
	tests := []struct {
		name      string
		statuses  map[string]Status
		urls      []string
		wantURL   string
		wantState Status
		wantCalls int
	}{
		{
			name:      "first online wins",
			statuses:  map[string]Status{"a": StatusOnline, "b": StatusOnline},
			urls:      []string{"a", "b"},
			wantURL:   "a",
			wantState: StatusOnline,
			wantCalls: 1,
		},
		{
			name:      "second candidate rescues",
			statuses:  map[string]Status{"a": StatusOffline, "b": StatusOnline},
			urls:      []string{"a", "b"},
			wantURL:   "b",
			wantState: StatusOnline,
			wantCalls: 2,
		},
		{
			name:      "all fail reports last",
			statuses:  map[string]Status{"a": StatusError, "b": StatusError, "c": StatusOffline},
			urls:      []string{"a", "b", "c"},
			wantURL:   "c",
			wantState: StatusOffline,
			wantCalls: 3,
		},
		{
			name:      "single candidate",
			statuses:  map[string]Status{"a": StatusError},
			urls:      []string{"a"},
			wantURL:   "a",
			wantState: StatusError,
			wantCalls: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls []string
			candidates := make([]Endpoint, 0, len(tt.urls))
			for _, u := range tt.urls {
				candidates = append(candidates, Endpoint{ID: "srv", URL: u})
			}

			out := WithFallback(context.Background(), scripted(tt.statuses, &calls), candidates, nil)

			if out.URL != tt.wantURL {
				t.Errorf("URL = %q, want %q", out.URL, tt.wantURL)
			}
			if out.Status != tt.wantState {
				t.Errorf("Status = %s, want %s", out.Status, tt.wantState)
			}
			if len(calls) != tt.wantCalls {
				t.Errorf("probes = %v, want %d calls", calls, tt.wantCalls)
			}
		})
	}
}

func TestWithFallback_NoCandidates(t *testing.T) {
	out := WithFallback(context.Background(), ProberFunc(func(ctx context.Context, ep Endpoint) Outcome {
		t.Fatal("prober should not be called")
		return Outcome{}
	}), nil, nil)

	if out.Status != StatusError || out.URL != MultipleSources {
		t.Errorf("Outcome = %s / %q", out.Status, out.URL)
	}
}

func TestWithFallback_StopsWhenCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls []string
	p := ProberFunc(func(c context.Context, ep Endpoint) Outcome {
		calls = append(calls, ep.URL)
		cancel()
		return Outcome{URL: ep.URL, Status: StatusError, Error: "cancelled"}
	})

	out := WithFallback(ctx, p, []Endpoint{{URL: "a"}, {URL: "b"}}, nil)

	if len(calls) != 1 {
		t.Errorf("probes = %v, want 1", calls)
	}
	if out.URL != "a" {
		t.Errorf("URL = %q, want a", out.URL)
	}
}
