package allocation

import "testing"

func TestCryptoSource_Perm(t *testing.T) {
	src := CryptoSource{}

	for _, n := range []int{0, 1, 2, 5, 100} {
		p := src.Perm(n)
		if len(p) != n {
			t.Fatalf("Perm(%d): expected length %d, got %d", n, n, len(p))
		}
		seen := make([]bool, n)
		for _, v := range p {
			if v < 0 || v >= n {
				t.Fatalf("Perm(%d): value %d out of range", n, v)
			}
			if seen[v] {
				t.Fatalf("Perm(%d): value %d repeated", n, v)
			}
			seen[v] = true
		}
	}
}

func TestCryptoSource_PermNotConstant(t *testing.T) {
	src := CryptoSource{}

	// Over many two-element draws both orders must show up; the chance of a
	// one-sided run this long is negligible.
	sawIdentity, sawSwap := false, false
	for i := 0; i < 200 && !(sawIdentity && sawSwap); i++ {
		p := src.Perm(2)
		if p[0] == 0 {
			sawIdentity = true
		} else {
			sawSwap = true
		}
	}
	if !sawIdentity || !sawSwap {
		t.Error("expected both orderings of Perm(2) to occur")
	}
}
