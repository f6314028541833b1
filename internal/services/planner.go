package services

import (
	"fmt"
	"math"

	"github.com/bobarin/longform/internal/models"
	"github.com/samber/lo"
)

// PlannedClip is one slot of the assembled timeline.
type PlannedClip struct {
	Index       int
	SourceIndex int
	Length      float64
}

// PlanClips divides a voiceover of v seconds into clips of at most m seconds
// and assigns sources round-robin over n downloaded references. Lengths never
// drop below one second, so the plan may run up to a second past v.
func PlanClips(v, m float64, n int) ([]PlannedClip, error) {
	if v <= 1 {
		return nil, fmt.Errorf("%w: voiceover duration %.2fs must exceed 1s", models.ErrInvalidInput, v)
	}
	if m <= 0 {
		return nil, fmt.Errorf("%w: max clip length %.2fs must be positive", models.ErrInvalidInput, m)
	}
	if n < 1 {
		return nil, fmt.Errorf("%w: need at least one source, got %d", models.ErrInvalidInput, n)
	}

	count := int(math.Ceil(v / m))
	clips := make([]PlannedClip, count)
	for i := 0; i < count; i++ {
		remaining := v - float64(i)*m
		clips[i] = PlannedClip{
			Index:       i,
			SourceIndex: i % n,
			Length:      math.Min(m, math.Max(1, remaining)),
		}
	}
	return clips, nil
}

// TotalLength sums the planned clip lengths.
func TotalLength(clips []PlannedClip) float64 {
	return lo.SumBy(clips, func(c PlannedClip) float64 { return c.Length })
}
