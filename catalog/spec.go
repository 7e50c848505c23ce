package catalog

import (
	"fmt"
)

// ImageSpec identifies one distinct boot image variant.  Two specs are
// the same image if and only if all six fields match.
type ImageSpec struct {
	OS      string `json:"os"`
	Arch    string `json:"arch"`
	SubArch string `json:"subarch"`
	KFlavor string `json:"kflavor"`
	Release string `json:"release"`
	Label   string `json:"label"`
}

func (s ImageSpec) String() string {
	return fmt.Sprintf("%s/%s/%s/%s/%s/%s",
		s.OS, s.Arch, s.SubArch, s.KFlavor, s.Release, s.Label)
}

// Less imposes a stable ordering on specs, field by field, so that
// iteration over an Index is deterministic.
func (s ImageSpec) Less(other ImageSpec) bool {
	if s.OS != other.OS {
		return s.OS < other.OS
	}
	if s.Arch != other.Arch {
		return s.Arch < other.Arch
	}
	if s.SubArch != other.SubArch {
		return s.SubArch < other.SubArch
	}
	if s.KFlavor != other.KFlavor {
		return s.KFlavor < other.KFlavor
	}
	if s.Release != other.Release {
		return s.Release < other.Release
	}
	return s.Label < other.Label
}
