package mqtt

import "testing"

func TestTopicsMatch(t *testing.T) {
	tests := []struct {
		name   string
		filter string
		topic  string
		want   bool
	}{
		{"exact match", "msh/2/json/LongFast/!abcd1234", "msh/2/json/LongFast/!abcd1234", true},
		{"exact mismatch", "msh/2/json/a", "msh/2/json/b", false},
		{"single-level wildcard", "msh/2/json/+/!abcd1234", "msh/2/json/LongFast/!abcd1234", true},
		{"single-level wildcard depth mismatch", "msh/+/json", "msh/2/json/extra", false},
		{"multi-level wildcard", "msh/2/json/#", "msh/2/json/LongFast/!abcd1234", true},
		{"multi-level wildcard at root", "#", "anything/at/all", true},
		{"filter longer than topic", "a/b/c", "a/b", false},
		{"topic longer than filter", "a/b", "a/b/c", false},
		{"plus does not cross levels", "a/+", "a/b/c", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := topicsMatch(tt.filter, tt.topic); got != tt.want {
				t.Errorf("topicsMatch(%q, %q) = %v, want %v", tt.filter, tt.topic, got, tt.want)
			}
		})
	}
}

func TestTopicFilter(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"$share/group1/msh/2/json/#", "msh/2/json/#"},
		{"msh/2/json/#", "msh/2/json/#"},
		{"$share/bad", "$share/bad"},
	}

	for _, tt := range tests {
		if got := topicFilter(tt.in); got != tt.want {
			t.Errorf("topicFilter(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
