package matching

import "fmt"

// BloodGroup is one of the eight canonical ABO/Rh groups
type BloodGroup string

const (
	APositive  BloodGroup = "A+"
	ANegative  BloodGroup = "A-"
	BPositive  BloodGroup = "B+"
	BNegative  BloodGroup = "B-"
	ABPositive BloodGroup = "AB+"
	ABNegative BloodGroup = "AB-"
	OPositive  BloodGroup = "O+"
	ONegative  BloodGroup = "O-"
)

// AllBloodGroups lists the canonical groups
var AllBloodGroups = []BloodGroup{
	APositive, ANegative, BPositive, BNegative,
	ABPositive, ABNegative, OPositive, ONegative,
}

// compatibleDonors maps a recipient group to the donor groups whose
// blood it can receive. O- donates to everyone; AB+ receives from everyone.
var compatibleDonors = map[BloodGroup][]BloodGroup{
	APositive:  {APositive, ANegative, OPositive, ONegative},
	ANegative:  {ANegative, ONegative},
	BPositive:  {BPositive, BNegative, OPositive, ONegative},
	BNegative:  {BNegative, ONegative},
	ABPositive: {APositive, ANegative, BPositive, BNegative, ABPositive, ABNegative, OPositive, ONegative},
	ABNegative: {ANegative, BNegative, ABNegative, ONegative},
	OPositive:  {OPositive, ONegative},
	ONegative:  {ONegative},
}

// ParseBloodGroup validates a blood group string
func ParseBloodGroup(s string) (BloodGroup, error) {
	bg := BloodGroup(s)
	if !bg.IsValid() {
		return "", fmt.Errorf("invalid blood group: %q", s)
	}
	return bg, nil
}

// IsValid reports whether the group is one of the eight canonical groups
func (bg BloodGroup) IsValid() bool {
	_, ok := compatibleDonors[bg]
	return ok
}

func (bg BloodGroup) String() string {
	return string(bg)
}

// CompatibleDonorGroups returns the donor groups compatible with the given
// recipient group. Unknown groups yield an empty set, so a malformed
// recipient matches no donors rather than wrong ones.
func CompatibleDonorGroups(recipient BloodGroup) []BloodGroup {
	donors, ok := compatibleDonors[recipient]
	if !ok {
		return nil
	}
	out := make([]BloodGroup, len(donors))
	copy(out, donors)
	return out
}

// CanDonateTo reports whether blood of the donor group can be given to
// a recipient of the given group
func CanDonateTo(donor, recipient BloodGroup) bool {
	for _, d := range compatibleDonors[recipient] {
		if d == donor {
			return true
		}
	}
	return false
}
