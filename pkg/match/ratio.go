package match

// Ratio returns the gestalt pattern-matching similarity of a and b:
// twice the number of matched runes divided by the total rune count, where
// matches are found by recursively taking the longest common substring and
// matching the pieces to either side of it.
func Ratio(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	total := len(ra) + len(rb)
	if total == 0 {
		return 1
	}
	return 2 * float64(matched(ra, rb)) / float64(total)
}

func matched(a, b []rune) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	i, j, size := longestCommon(a, b)
	if size == 0 {
		return 0
	}
	return size + matched(a[:i], b[:j]) + matched(a[i+size:], b[j+size:])
}

// longestCommon finds the earliest longest common substring of a and b.
func longestCommon(a, b []rune) (int, int, int) {
	bestI, bestJ, best := 0, 0, 0
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				cur[j] = prev[j-1] + 1
				if cur[j] > best {
					best = cur[j]
					bestI, bestJ = i-best, j-best
				}
			} else {
				cur[j] = 0
			}
		}
		prev, cur = cur, prev
	}
	return bestI, bestJ, best
}
