package scale

import (
	"fmt"
	"math"

	"github.com/cuemby/burrow/pkg/types"
)

// CalculateDesired computes a new desired capacity from an adjustment
// request.
//
// EXACT_CAPACITY sets the capacity to number. CHANGE_IN_CAPACITY adds
// number (which may be negative). CHANGE_IN_PERCENTAGE adds
// current * number / 100, bumped to at least minStep in magnitude and
// rounded away from zero.
func CalculateDesired(current int, adjType types.AdjustmentType, number float64, minStep int) int {
	switch adjType {
	case types.ExactCapacity:
		return int(number)
	case types.ChangeInCapacity:
		return current + int(number)
	case types.ChangeInPercentage:
		delta := float64(current) * number / 100.0
		if minStep > 0 && math.Abs(delta) < float64(minStep) {
			if number > 0 {
				delta = float64(minStep)
			} else {
				delta = -float64(minStep)
			}
		}
		return current + roundAwayFromZero(delta)
	default:
		return current
	}
}

func roundAwayFromZero(v float64) int {
	if v >= 0 {
		return int(math.Ceil(v))
	}
	return int(math.Floor(v))
}

// TruncateDesired clamps desired to the effective capacity bounds. Nil
// minSize/maxSize fall back to the cluster's current fields; a max below
// zero means unbounded.
func TruncateDesired(cluster *types.Cluster, desired int, minSize, maxSize *int) int {
	min := cluster.MinSize
	if minSize != nil {
		min = *minSize
	}
	if desired < min {
		desired = min
	}

	max := cluster.MaxSize
	if maxSize != nil {
		max = *maxSize
	}
	if max >= 0 && desired > max {
		desired = max
	}

	return desired
}

// CheckSizeParams validates a (desired, min_size, max_size) request against
// the cluster's current properties.
//
// When strict, desired must satisfy the target bounds. Independently the new
// bounds must be self-consistent, and must not contradict cluster state when
// the complementary value is not being changed. Nil arguments mean "not
// being changed". A nil error means the parameters are acceptable.
func CheckSizeParams(cluster *types.Cluster, desired, minSize, maxSize *int, strict bool) error {
	if desired != nil && strict {
		d := *desired
		if minSize != nil && d < *minSize {
			return fmt.Errorf("the target capacity (%d) is less than the specified min_size (%d)", d, *minSize)
		}
		if minSize == nil && d < cluster.MinSize {
			return fmt.Errorf("the target capacity (%d) is less than the cluster's min_size (%d)", d, cluster.MinSize)
		}
		if maxSize != nil && *maxSize >= 0 && d > *maxSize {
			return fmt.Errorf("the target capacity (%d) is greater than the specified max_size (%d)", d, *maxSize)
		}
		if maxSize == nil && cluster.MaxSize >= 0 && d > cluster.MaxSize {
			return fmt.Errorf("the target capacity (%d) is greater than the cluster's max_size (%d)", d, cluster.MaxSize)
		}
	}

	if minSize != nil {
		if maxSize != nil && *maxSize >= 0 && *minSize > *maxSize {
			return fmt.Errorf("the specified min_size is greater than the specified max_size")
		}
		if maxSize == nil && cluster.MaxSize >= 0 && *minSize > cluster.MaxSize {
			return fmt.Errorf("the specified min_size is greater than the current max_size of the cluster")
		}
		if desired == nil && *minSize > cluster.DesiredCapacity {
			return fmt.Errorf("the specified min_size is greater than the current desired_capacity of the cluster")
		}
	}

	if maxSize != nil {
		if minSize == nil && *maxSize >= 0 && *maxSize < cluster.MinSize {
			return fmt.Errorf("the specified max_size is less than the current min_size of the cluster")
		}
		if desired == nil && *maxSize >= 0 && *maxSize < cluster.DesiredCapacity {
			return fmt.Errorf("the specified max_size is less than the current desired_capacity of the cluster")
		}
	}

	return nil
}
