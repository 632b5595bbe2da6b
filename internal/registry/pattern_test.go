package registry

import "testing"

func TestValidPattern(t *testing.T) {
	valid := []string{"orders", "orders:%", "a-b_c:1", "%", "room:%:events"}
	for _, p := range valid {
		if !validPattern(p) {
			t.Fatalf("expected valid: %q", p)
		}
	}
	invalid := []string{"", "orders/1", "a b", "emojié", "x*y", "a.b"}
	for _, p := range invalid {
		if validPattern(p) {
			t.Fatalf("expected invalid: %q", p)
		}
	}
}

func TestValidName(t *testing.T) {
	valid := []string{"orders", "orders:42", "a-b_c:1", "room:1:events"}
	for _, n := range valid {
		if !validName(n) {
			t.Fatalf("expected valid: %q", n)
		}
	}
	invalid := []string{"", "a/b", "a b", "orders:%", "a.b", "emojié"}
	for _, n := range invalid {
		if validName(n) {
			t.Fatalf("expected invalid: %q", n)
		}
	}
}

func TestLikeMatch(t *testing.T) {
	cases := []struct {
		pattern string
		name    string
		want    bool
	}{
		{"orders:%", "orders:42", true},
		{"orders:%", "orders:", true},
		{"orders:%", "orders", false},
		{"orders:%", "invoices:42", false},
		{"%", "anything", true},
		{"%", "", true},
		{"exact", "exact", true},
		{"exact", "exact2", false},
		{"a%z", "az", true},
		{"a%z", "abcz", true},
		{"a%z", "abc", false},
		{"a%b%c", "a-b-c", true},
		{"a%b%c", "abc", true},
		{"a%b%c", "acb", false},
		{"%:events", "room:1:events", true},
		{"%:events", "room:1:event", false},
	}
	for _, tc := range cases {
		if got := likeMatch(tc.pattern, tc.name); got != tc.want {
			t.Fatalf("likeMatch(%q, %q) = %v, want %v", tc.pattern, tc.name, got, tc.want)
		}
	}
}
