package lead

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractNameAndEmail(t *testing.T) {
	result := Extract("My name is Jane Doe, email jane@example.com")

	assert.Equal(t, []string{"jane@example.com"}, result.Emails)
	assert.Contains(t, result.Names, "Jane Doe")
	assert.Empty(t, result.Phones)
	assert.False(t, result.Empty())
}

func TestExtractNoSignal(t *testing.T) {
	for _, text := range []string{
		"",
		"hello there, how does the pricing work?",
		"what are your opening hours on weekends",
		"12 apples and 7 pears",
	} {
		result := Extract(text)
		assert.True(t, result.Empty(), "text %q produced %+v", text, result)
	}
}

func TestDetectEmailsDeduplicates(t *testing.T) {
	emails := DetectEmails("reach me at a.b+tag@mail.example.org or a.b+tag@mail.example.org, also ops@corp.io")
	assert.Equal(t, []string{"a.b+tag@mail.example.org", "ops@corp.io"}, emails)
}

func TestDetectPhonesPrefersKeywordMatches(t *testing.T) {
	phones := DetectPhones("Order 555-000-1111 shipped. You can call me at (555) 123-4567.")
	assert.Equal(t, []string{"5551234567"}, phones)
}

func TestDetectPhonesLabelledAndNormalized(t *testing.T) {
	phones := DetectPhones("Phone: 555.987.6543 and mobile 555 987 6543")
	assert.Equal(t, []string{"5559876543"}, phones)
}

func TestDetectPhonesFallback(t *testing.T) {
	phones := DetectPhones("reach the office on 212-555-0199 tomorrow")
	assert.Equal(t, []string{"2125550199"}, phones)
}

func TestDetectNamesKeywordFiltersSingleCharacters(t *testing.T) {
	names := DetectNames("call me J")
	assert.Empty(t, names)

	names = DetectNames("you can call me Alex")
	assert.Equal(t, []string{"Alex"}, names)
}

func TestDetectNamesFallbackIsCapitalizedRun(t *testing.T) {
	names := DetectNames("Please forward this to Maria Lopez today")
	require.Len(t, names, 1)
	assert.Equal(t, "Maria Lopez", names[0])

	// Known false positive of the keyword-free fallback.
	names = DetectNames("we are based in New York City")
	assert.Equal(t, []string{"New York City"}, names)
}

func TestDetectNamesKeywordSuppressesFallback(t *testing.T) {
	names := DetectNames("I'm Sam, I work at Acme Widgets Inc")
	assert.Equal(t, []string{"Sam"}, names)
}
