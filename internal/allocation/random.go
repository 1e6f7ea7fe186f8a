package allocation

import (
	"crypto/rand"
	"math/big"
)

// Source yields the random permutation that decides queue order.
type Source interface {
	// Perm returns a uniformly random permutation of the integers [0, n).
	Perm(n int) []int
}

// CryptoSource draws from crypto/rand so no party can predict or influence
// queue positions. Stateless and safe for concurrent allocations.
type CryptoSource struct{}

func (CryptoSource) Perm(n int) []int {
	p := make([]int, n)
	for i := range p {
		p[i] = i
	}
	// Fisher-Yates; rand.Int is an unbiased bounded draw.
	for i := n - 1; i > 0; i-- {
		j, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			// crypto/rand failing means the platform random source is broken;
			// there is no fair fallback.
			panic(err)
		}
		p[i], p[j.Int64()] = p[j.Int64()], p[i]
	}
	return p
}
