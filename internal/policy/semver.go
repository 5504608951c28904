package policy

import (
	"fmt"
	"strconv"
	"strings"

	dErrors "tutela/pkg/domain-errors"
)

// initialVersion is assigned to every newly created policy.
const initialVersion = "1.0.0"

// parseVersion splits a MAJOR.MINOR.PATCH string into its components.
func parseVersion(s string) (major, minor, patch int, err error) {
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return 0, 0, 0, fmt.Errorf("version %q is not MAJOR.MINOR.PATCH", s)
	}
	nums := make([]int, 3)
	for i, p := range parts {
		n, convErr := strconv.Atoi(p)
		if convErr != nil || n < 0 || (len(p) > 1 && p[0] == '0') {
			return 0, 0, 0, fmt.Errorf("version %q has invalid component %q", s, p)
		}
		nums[i] = n
	}
	return nums[0], nums[1], nums[2], nil
}

// bumpVersion advances a semver string according to the update's impact:
// critical raises major, high and medium raise minor, low raises patch.
func bumpVersion(current string, impact Impact) (string, error) {
	major, minor, patch, err := parseVersion(current)
	if err != nil {
		return "", dErrors.Wrap(dErrors.CodeInternal, "bump policy version", err)
	}
	switch impact {
	case ImpactCritical:
		return fmt.Sprintf("%d.0.0", major+1), nil
	case ImpactHigh, ImpactMedium:
		return fmt.Sprintf("%d.%d.0", major, minor+1), nil
	case ImpactLow:
		return fmt.Sprintf("%d.%d.%d", major, minor, patch+1), nil
	default:
		return "", dErrors.New(dErrors.CodeInternal,
			fmt.Sprintf("unknown impact grade %q", impact))
	}
}
