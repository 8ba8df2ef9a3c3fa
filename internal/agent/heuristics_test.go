package agent

import "testing"

func TestNeedsToolsDetectsActionableCues(t *testing.T) {
	cases := []struct {
		content string
		want    bool
	}{
		{"hello, how are you today?", false},
		{"please run the test suite", true},
		{"check out https://example.com/docs", true},
		{"install the new skill for weather lookups", true},
		{"just chatting, nothing to do", false},
	}

	for _, c := range cases {
		if got := needsTools(c.content); got != c.want {
			t.Errorf("needsTools(%q) = %v, want %v", c.content, got, c.want)
		}
	}
}

func TestIsCommitmentDetectsFirstPersonMarkers(t *testing.T) {
	cases := []struct {
		text string
		want bool
	}{
		{"I'll fetch that file now and report back.", true},
		{"Let me check the logs for you.", true},
		{"I will schedule the deploy.", true},
		{"What would you like me to do next?", false},
		{"", false},
		{"Here is the answer you asked for.", false},
	}

	for _, c := range cases {
		if got := isCommitment(c.text); got != c.want {
			t.Errorf("isCommitment(%q) = %v, want %v", c.text, got, c.want)
		}
	}
}
