// Package classify infers data types and sensitivity levels for scalar
// values. Classification is a pure function: no I/O, no persistence, results
// are recomputed on demand.
package classify

// DataType tags a classified value with one of a closed set of kinds.
type DataType string

const (
	TypeCreditCard      DataType = "credit_card"
	TypeBankAccount     DataType = "bank_account"
	TypeBusinessNumber  DataType = "business_number"
	TypeTaxFileNumber   DataType = "tax_file_number"
	TypeEmail           DataType = "email"
	TypePhone           DataType = "phone"
	TypePostalAddress   DataType = "postal_address"
	TypePostcode        DataType = "postcode"
	TypeCurrencyAmount  DataType = "currency_amount"
	TypePercentage      DataType = "percentage"
	TypeDate            DataType = "date"
	TypePersonName      DataType = "person_name"
	TypeCulturalContent DataType = "cultural_content"
	TypeUnknown         DataType = "unknown"
)

// Sensitivity is the ordered protection level assigned to classified data.
type Sensitivity string

const (
	SensitivityPublic       Sensitivity = "public"
	SensitivityInternal     Sensitivity = "internal"
	SensitivityConfidential Sensitivity = "confidential"
	SensitivityRestricted   Sensitivity = "restricted"
	SensitivitySacred       Sensitivity = "sacred"
)

var sensitivityRank = map[Sensitivity]int{
	SensitivityPublic:       0,
	SensitivityInternal:     1,
	SensitivityConfidential: 2,
	SensitivityRestricted:   3,
	SensitivitySacred:       4,
}

// Rank returns the position in the public < internal < confidential <
// restricted < sacred ordering. Unknown levels rank lowest.
func (s Sensitivity) Rank() int {
	return sensitivityRank[s]
}

// AtLeast reports whether s is as sensitive as other or more.
func (s Sensitivity) AtLeast(other Sensitivity) bool {
	return s.Rank() >= other.Rank()
}

// Valid reports whether s is one of the five defined levels.
func (s Sensitivity) Valid() bool {
	_, ok := sensitivityRank[s]
	return ok
}

// MaxSensitivity returns the higher of two levels.
func MaxSensitivity(a, b Sensitivity) Sensitivity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// ClassifiedValue is the ephemeral classification result. It is never
// persisted; audit entries reference only the derived fields.
type ClassifiedValue struct {
	Raw                 any         `json:"-"`
	DataType            DataType    `json:"data_type"`
	Sensitivity         Sensitivity `json:"sensitivity"`
	CulturallySensitive bool        `json:"culturally_sensitive"`
	Confidence          float64     `json:"confidence"`
	Matches             []string    `json:"matches,omitempty"`
}

// sensitivityFor derives the protection level from the data type. Cultural
// content carrying sacred or ceremonial terms maps to the highest level.
func sensitivityFor(dataType DataType, sacred bool) Sensitivity {
	switch dataType {
	case TypeCulturalContent:
		if sacred {
			return SensitivitySacred
		}
		return SensitivityRestricted
	case TypeCreditCard, TypeBankAccount, TypeTaxFileNumber:
		return SensitivityRestricted
	case TypeBusinessNumber, TypeCurrencyAmount, TypePersonName,
		TypeEmail, TypePhone, TypePostalAddress:
		return SensitivityConfidential
	case TypePercentage, TypeDate, TypePostcode:
		return SensitivityInternal
	default:
		return SensitivityPublic
	}
}
