package transfer

import "fmt"

// Progress is a snapshot of a transfer's byte counters.
type Progress struct {
	Transferred uint64
	Expected    uint64
}

// Complete reports whether every expected byte was transferred.
func (p Progress) Complete() bool {
	return p.Transferred == p.Expected
}

// Percent returns completion in the range [0, 100]. An empty file is always
// 100% complete.
func (p Progress) Percent() float64 {
	if p.Expected == 0 {
		return 100
	}
	return float64(p.Transferred) * 100 / float64(p.Expected)
}

// String formats p as "transferred/expected bytes (percent)".
func (p Progress) String() string {
	return fmt.Sprintf("%d/%d bytes (%.2f%%)", p.Transferred, p.Expected, p.Percent())
}
