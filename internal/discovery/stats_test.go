package discovery

import (
	"errors"
	"math"
	"testing"
)

func approx(a, b, tol float64) bool { return math.Abs(a-b) <= tol }

func TestRuleOfThreeUpper(t *testing.T) {
	if got := RuleOfThreeUpper(600); !approx(got, 0.005, 1e-15) {
		t.Errorf("RuleOfThreeUpper(600) = %v, want 0.005", got)
	}
	if got := RuleOfThreeUpper(0); !math.IsInf(got, 1) {
		t.Errorf("RuleOfThreeUpper(0) = %v, want +Inf", got)
	}
}

func TestBinomialLowerTail(t *testing.T) {
	got, err := BinomialLowerTail(0, 10, 0.1)
	if err != nil {
		t.Fatal(err)
	}
	if want := math.Pow(0.9, 10); !approx(got, want, 1e-9) {
		t.Errorf("P(K<=0) = %v, want %v", got, want)
	}

	// P(K <= 1 | Bin(4, 0.5)) = 5/16.
	got, _ = BinomialLowerTail(1, 4, 0.5)
	if !approx(got, 5.0/16, 1e-9) {
		t.Errorf("P(K<=1) = %v, want %v", got, 5.0/16)
	}

	got, _ = BinomialLowerTail(10, 10, 0.3)
	if got != 1 {
		t.Errorf("P(K<=n) = %v, want 1", got)
	}
}

func TestBinomialLowerTail_Monotone(t *testing.T) {
	prev := -1.0
	for k := uint64(0); k <= 20; k++ {
		p, err := BinomialLowerTail(k, 1000, 0.005)
		if err != nil {
			t.Fatal(err)
		}
		if p < prev {
			t.Errorf("k=%d: p = %v decreased from %v", k, p, prev)
		}
		prev = p
	}
}

func TestClopperPearsonUpper(t *testing.T) {
	// With zero failures the exact bound is 1 - alpha^(1/n).
	got, err := ClopperPearsonUpper(0, 100, 0.95)
	if err != nil {
		t.Fatal(err)
	}
	if want := 1 - math.Pow(0.05, 1.0/100); !approx(got, want, 1e-9) {
		t.Errorf("upper(0, 100) = %v, want %v", got, want)
	}
	if got, _ := ClopperPearsonUpper(5, 5, 0.95); got != 1 {
		t.Errorf("upper(k=n) = %v, want 1", got)
	}
	lo, _ := ClopperPearsonUpper(1, 100, 0.95)
	hi, _ := ClopperPearsonUpper(2, 100, 0.95)
	if !(lo < hi) {
		t.Errorf("upper should grow with k: %v !< %v", lo, hi)
	}
	if lo <= 0.01 {
		t.Errorf("upper(1, 100) = %v, want above the point estimate", lo)
	}
}

func TestCheckProbability(t *testing.T) {
	for _, v := range []float64{math.NaN(), math.Inf(1), -0.1, 1.5} {
		_, err := checkProbability("test", v)
		if !errors.Is(err, ErrNumericalInstability) {
			t.Errorf("checkProbability(%v) err = %v, want ErrNumericalInstability", v, err)
		}
	}
	if p, err := checkProbability("test", 1+1e-13); err != nil || p != 1 {
		t.Errorf("rounding above 1 = %v, %v; want 1, nil", p, err)
	}
}
