package indicator

import (
	"errors"
	"math"
	"testing"
)

func almostEqual(t *testing.T, want, got, tol float64, name string) {
	t.Helper()
	if math.Abs(want-got) > tol {
		t.Errorf("%s: expected %.6f, got %.6f", name, want, got)
	}
}

func TestSigmaWindowed(t *testing.T) {
	closes := []float64{100, 101, 99, 102}

	sigma, err := Sigma(closes, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Bessel-corrected stddev of ln(101/100), ln(99/101), ln(102/99).
	almostEqual(t, 0.025095, sigma, 1e-6, "sigma")
}

func TestSigmaFullSeriesDefault(t *testing.T) {
	closes := []float64{100, 101, 99, 102}

	full, err := Sigma(closes, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	windowed, _ := Sigma(closes, 3)
	if full != windowed {
		t.Errorf("window 0 should mean full series: %.8f vs %.8f", full, windowed)
	}

	// Window larger than available returns is clamped, not an error.
	clamped, err := Sigma(closes, 50)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if clamped != full {
		t.Errorf("oversized window should clamp to full series")
	}
}

func TestSigmaInsufficientData(t *testing.T) {
	if _, err := Sigma([]float64{100}, 0); !errors.Is(err, ErrInsufficientData) {
		t.Errorf("expected ErrInsufficientData, got %v", err)
	}
	if _, err := Sigma(nil, 0); !errors.Is(err, ErrInsufficientData) {
		t.Errorf("expected ErrInsufficientData, got %v", err)
	}
}

func TestSigmaBandsInside(t *testing.T) {
	closes := []float64{100, 101, 99, 102}

	b, err := SigmaBands(closes, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	almostEqual(t, 100, b.RefClose, 0, "refClose")
	almostEqual(t, 102, b.CurrentClose, 0, "currentClose")
	almostEqual(t, 2.509502, b.SigmaAbsolute, 1e-6, "sigmaAbsolute")
	almostEqual(t, 102.509502, b.Upper1, 1e-6, "upper1")
	almostEqual(t, 97.490498, b.Lower1, 1e-6, "lower1")
	almostEqual(t, 0.796971, b.Z, 1e-6, "z")

	if b.State != Inside {
		t.Fatalf("expected INSIDE, got %s", b.State)
	}
	almostEqual(t, 1-b.Z, b.ToUpper, 1e-12, "toUpper")
	almostEqual(t, 1+b.Z, b.ToLower, 1e-12, "toLower")
	if b.Upper2 != b.RefClose+2*b.SigmaAbsolute || b.Lower3 != b.RefClose-3*b.SigmaAbsolute {
		t.Errorf("wide bands not anchored on refClose")
	}
}

func TestSigmaBandsUpperBreak(t *testing.T) {
	// Tiny historical volatility, then a large final move.
	closes := []float64{100, 100.1, 99.95, 100.05, 120}

	b, err := SigmaBands(closes, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.State != UpperBreak {
		t.Fatalf("expected UPPER_BREAK, got %s (z=%.4f)", b.State, b.Z)
	}
	almostEqual(t, b.Z-1, b.Beyond, 1e-12, "beyond")
}

func TestSigmaBandsLowerBreak(t *testing.T) {
	closes := []float64{100, 100.1, 99.95, 100.05, 80}

	b, err := SigmaBands(closes, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.State != LowerBreak {
		t.Fatalf("expected LOWER_BREAK, got %s (z=%.4f)", b.State, b.Z)
	}
	almostEqual(t, -(b.Z + 1), b.Beyond, 1e-12, "beyond")
}

func TestSigmaBandsZeroVolatility(t *testing.T) {
	closes := []float64{100, 100, 100, 100}

	b, err := SigmaBands(closes, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.State != ZeroVolatility {
		t.Fatalf("expected ZERO_VOLATILITY, got %s", b.State)
	}
	if b.Z != 0 || math.IsNaN(b.Z) || math.IsInf(b.Z, 0) {
		t.Errorf("flat series must not produce NaN/Inf z, got %v", b.Z)
	}
	if b.Upper1 != 100 || b.Lower1 != 100 {
		t.Errorf("flat series bands should collapse onto the close")
	}
}
