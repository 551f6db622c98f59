package payment

import "testing"

func TestIsValidEmail(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"user@example.com", true},
		{"  user@example.com  ", true},
		{"first.last@sub.example.ru", true},
		{"user@example", false},
		{"@example.com", false},
		{"user@", false},
		{"user example@example.com", false},
		{"user@@example.com", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := IsValidEmail(tc.in); got != tc.want {
			t.Errorf("IsValidEmail(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestIsValidAmount(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"100", true},
		{"100.00", true},
		{"100.5", true},
		{"99999", true},
		{"99", false},
		{"99.99", false},
		{"100.", false},
		{"100.999", false},
		{"-100", false},
		{"1e3", false},
		{"abc", false},
		{"", false},
		{" 150 ", true},
	}
	for _, tc := range cases {
		if got := IsValidAmount(tc.in); got != tc.want {
			t.Errorf("IsValidAmount(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestIsValidMethod(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"", true},
		{"   ", true},
		{"bank_card", true},
		{"sbp", true},
		{"yoo_money", true},
		{" SBP ", true},
		{"paypal", false},
		{"yookassa", false},
		{"alfabank", false},
		{"cash", false},
	}
	for _, tc := range cases {
		if got := IsValidMethod(tc.in); got != tc.want {
			t.Errorf("IsValidMethod(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestFormValidRequiresBoth(t *testing.T) {
	if !FormValid("user@example.com", "100") {
		t.Fatal("valid email and amount should pass")
	}
	if FormValid("user@example.com", "99") {
		t.Fatal("invalid amount must fail the whole form")
	}
	if FormValid("bad-email", "100") {
		t.Fatal("invalid email must fail the whole form")
	}
	if FormValid("bad-email", "99") {
		t.Fatal("both invalid must fail")
	}
}
