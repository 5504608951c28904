package classify

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify_CreditCard(t *testing.T) {
	c := New()

	t.Run("valid card claims type with high confidence", func(t *testing.T) {
		got := c.Classify("4532 0151 1283 0366")
		require.Equal(t, TypeCreditCard, got.DataType)
		require.Equal(t, SensitivityRestricted, got.Sensitivity)
		assert.Greater(t, got.Confidence, 0.8)
		assert.False(t, got.CulturallySensitive)
	})

	t.Run("failed checksum disqualifies the claim", func(t *testing.T) {
		got := c.Classify("4532 1234 5678 9012")
		require.NotEqual(t, TypeCreditCard, got.DataType)
		require.Equal(t, TypeUnknown, got.DataType)
		assert.Less(t, got.Confidence, 0.5)
		assert.Contains(t, got.Matches, "credit_card(checksum_failed)")
	})

	t.Run("ungrouped card still matches", func(t *testing.T) {
		got := c.Classify("4111111111111111")
		require.Equal(t, TypeCreditCard, got.DataType)
		assert.Greater(t, got.Confidence, 0.8)
	})
}

// TestClassify_ChecksumGate sweeps every possible check digit over a card
// prefix: the type is assigned exactly when Luhn validates, and passing
// values always score higher than failing ones.
func TestClassify_ChecksumGate(t *testing.T) {
	c := New()
	var passConf, failConf float64
	passes := 0
	for d := 0; d <= 9; d++ {
		value := fmt.Sprintf("453201511283036%d", d)
		got := c.Classify(value)
		if got.DataType == TypeCreditCard {
			passes++
			passConf = got.Confidence
			assert.Equal(t, SensitivityRestricted, got.Sensitivity)
		} else {
			failConf = got.Confidence
		}
	}
	require.Equal(t, 1, passes, "exactly one check digit should validate")
	assert.Greater(t, passConf, failConf)
}

func TestClassify_TaxFileNumber(t *testing.T) {
	c := New()

	got := c.Classify("123 456 782")
	require.Equal(t, TypeTaxFileNumber, got.DataType)
	require.Equal(t, SensitivityRestricted, got.Sensitivity)
	assert.InDelta(t, 0.85, got.Confidence, 0.001)

	bad := c.Classify("123 456 789")
	require.NotEqual(t, TypeTaxFileNumber, bad.DataType)
	assert.Less(t, bad.Confidence, got.Confidence)
}

func TestClassify_BusinessNumber(t *testing.T) {
	c := New()

	t.Run("bare ABN", func(t *testing.T) {
		got := c.Classify("51 824 753 556")
		require.Equal(t, TypeBusinessNumber, got.DataType)
		require.Equal(t, SensitivityConfidential, got.Sensitivity)
	})

	t.Run("cue prefix adds a confirmation", func(t *testing.T) {
		bare := c.Classify("51 824 753 556")
		cued := c.Classify("ABN 51 824 753 556")
		require.Equal(t, TypeBusinessNumber, cued.DataType)
		assert.Greater(t, cued.Confidence, bare.Confidence)
	})

	t.Run("failed weights reject the claim", func(t *testing.T) {
		got := c.Classify("51 824 753 557")
		require.NotEqual(t, TypeBusinessNumber, got.DataType)
	})
}

func TestClassify_StructuredShapes(t *testing.T) {
	c := New()

	cases := []struct {
		name        string
		value       string
		dataType    DataType
		sensitivity Sensitivity
	}{
		{"bank account", "062-000 12345678", TypeBankAccount, SensitivityRestricted},
		{"email", "info@example.com", TypeEmail, SensitivityConfidential},
		{"mobile phone", "+61 412 345 678", TypePhone, SensitivityConfidential},
		{"landline", "(02) 9374 4000", TypePhone, SensitivityConfidential},
		{"currency with symbol", "$1,234.56", TypeCurrencyAmount, SensitivityConfidential},
		{"currency with code", "99.95 AUD", TypeCurrencyAmount, SensitivityConfidential},
		{"percentage", "42%", TypePercentage, SensitivityInternal},
		{"iso date", "2024-01-31", TypeDate, SensitivityInternal},
		{"slash date", "31/01/2024", TypeDate, SensitivityInternal},
		{"textual date", "31 Jan 2024", TypeDate, SensitivityInternal},
		{"postcode", "0800", TypePostcode, SensitivityInternal},
		{"address", "12 Wallaby Way Sydney NSW 2000", TypePostalAddress, SensitivityConfidential},
		{"person name", "Dr Sarah Chen", TypePersonName, SensitivityConfidential},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := c.Classify(tc.value)
			require.Equal(t, tc.dataType, got.DataType, "matches: %v", got.Matches)
			assert.Equal(t, tc.sensitivity, got.Sensitivity)
			assert.GreaterOrEqual(t, got.Confidence, 0.5)
		})
	}
}

func TestClassify_TieBreaks(t *testing.T) {
	c := New()

	t.Run("four digits in year range read as a date", func(t *testing.T) {
		got := c.Classify("2024")
		require.Equal(t, TypeDate, got.DataType)
	})

	t.Run("four digits outside year range read as a postcode", func(t *testing.T) {
		got := c.Classify("4000")
		require.Equal(t, TypePostcode, got.DataType)
	})
}

func TestClassify_CulturalContent(t *testing.T) {
	c := New()

	t.Run("sacred terms map to the highest level", func(t *testing.T) {
		got := c.Classify("sacred site near the songline crossing")
		require.Equal(t, TypeCulturalContent, got.DataType)
		require.Equal(t, SensitivitySacred, got.Sensitivity)
		assert.True(t, got.CulturallySensitive)
	})

	t.Run("territory reference without sacred terms is restricted", func(t *testing.T) {
		got := c.Classify("Wiradjuri land records")
		require.Equal(t, TypeCulturalContent, got.DataType)
		require.Equal(t, SensitivityRestricted, got.Sensitivity)
		assert.True(t, got.CulturallySensitive)
	})

	t.Run("cultural keyword raises identifier sensitivity", func(t *testing.T) {
		got := c.Classify("elder@community.org")
		require.Equal(t, TypeEmail, got.DataType)
		require.Equal(t, SensitivityRestricted, got.Sensitivity)
		assert.True(t, got.CulturallySensitive)
	})

	t.Run("keyword inside a longer word does not trigger", func(t *testing.T) {
		got := c.Classify("mobile data usage report")
		assert.False(t, got.CulturallySensitive)
	})
}

func TestClassify_NonStringInputs(t *testing.T) {
	c := New()

	t.Run("nil is unknown with zero confidence", func(t *testing.T) {
		got := c.Classify(nil)
		require.Equal(t, TypeUnknown, got.DataType)
		require.Equal(t, SensitivityPublic, got.Sensitivity)
		assert.Zero(t, got.Confidence)
	})

	t.Run("unsupported types are unknown", func(t *testing.T) {
		got := c.Classify(true)
		require.Equal(t, TypeUnknown, got.DataType)
		assert.Zero(t, got.Confidence)
	})

	t.Run("integer year", func(t *testing.T) {
		got := c.Classify(2024)
		require.Equal(t, TypeDate, got.DataType)
	})

	t.Run("fraction reads as a percentage ratio", func(t *testing.T) {
		got := c.Classify(0.42)
		require.Equal(t, TypePercentage, got.DataType)
		assert.InDelta(t, 0.55, got.Confidence, 0.001)
	})

	t.Run("empty string", func(t *testing.T) {
		got := c.Classify("   ")
		require.Equal(t, TypeUnknown, got.DataType)
		assert.Zero(t, got.Confidence)
	})
}

func TestClassify_PlainText(t *testing.T) {
	c := New()
	got := c.Classify("quarterly planning notes")
	require.Equal(t, TypeUnknown, got.DataType)
	require.Equal(t, SensitivityPublic, got.Sensitivity)
	assert.Less(t, got.Confidence, 0.2)
}

func TestSensitivityOrdering(t *testing.T) {
	ordered := []Sensitivity{
		SensitivityPublic,
		SensitivityInternal,
		SensitivityConfidential,
		SensitivityRestricted,
		SensitivitySacred,
	}
	for i := 1; i < len(ordered); i++ {
		assert.True(t, ordered[i].AtLeast(ordered[i-1]))
		assert.False(t, ordered[i-1].AtLeast(ordered[i]))
		assert.Equal(t, ordered[i], MaxSensitivity(ordered[i-1], ordered[i]))
	}
	assert.True(t, SensitivityRestricted.AtLeast(SensitivityRestricted))
	assert.False(t, Sensitivity("bogus").Valid())
}
