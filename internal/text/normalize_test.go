package text

import "testing"

func TestOptimizeGroupedNumbers(t *testing.T) {
	cases := map[string]string{
		"Das sind 20.000 Euro!":        "Das sind 20000 Euro!",
		"Es kostet 1.234.567 Euro.":    "Es kostet 1234567 Euro.",
		"Nur 999 Stück verfügbar.":     "Nur 999 Stück verfügbar.",
		"Am 24.12. ist Heiligabend.":   "Am 24.12. ist Heiligabend.",
	}
	for in, want := range cases {
		if got := Optimize(in); got != want {
			t.Fatalf("Optimize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestOptimizeSymbolsAndDecimals(t *testing.T) {
	cases := map[string]string{
		"Das kostet 20€.":       "Das kostet 20 Euro.",
		"Etwa 3,5 Kilometer.":   "Etwa 3 Komma 5 Kilometer.",
		"Rund 80% Zustimmung.":  "Rund 80 Prozent Zustimmung.",
		"Siehe §12 Absatz 2.":   "Siehe Paragraph 12 Absatz 2.",
		"Warte kurz… gleich da": "Warte kurz... gleich da",
	}
	for in, want := range cases {
		if got := Optimize(in); got != want {
			t.Fatalf("Optimize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestOptimizeCollapsesWhitespace(t *testing.T) {
	got := Optimize("  Hallo \t Welt \n wie geht's  ")
	if got != "Hallo Welt wie geht's" {
		t.Fatalf("unexpected result: %q", got)
	}
}

func TestOptimizeDeterministic(t *testing.T) {
	in := "Das sind 20.000 Euro!"
	first := Optimize(in)
	second := Optimize(in)
	if first != second {
		t.Fatalf("not deterministic: %q vs %q", first, second)
	}
}

func TestOptimizeEmpty(t *testing.T) {
	if got := Optimize(""); got != "" {
		t.Fatalf("expected empty string, got %q", got)
	}
}
