package locale

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"github.com/kozaktomas/presence/internal/biometric"
)

func testCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := New(map[string]map[string]string{
		"en": {
			"accepted":                          "Identity verified.",
			"device_mismatch":                   "Wrong device.",
			"conflicting_identity":              "Already registered here.",
			"conflicting_identity_other_device": "Already registered elsewhere.",
		},
		"fr": {
			"accepted":        "Identité vérifiée.",
			"device_mismatch": "Mauvais appareil.",
		},
		"es": {
			"accepted": "Identidad verificada.",
		},
	}, "en")
	require.NoError(t, err)
	return c
}

func TestNew_Errors(t *testing.T) {
	_, err := New(nil, "en")
	require.ErrorIs(t, err, ErrNoLanguages)

	_, err = New(map[string]map[string]string{"fr": {}}, "en")
	require.Error(t, err)

	_, err = New(map[string]map[string]string{"en": {}, "not a tag!": {}}, "en")
	require.Error(t, err)
}

func TestMatch(t *testing.T) {
	c := testCatalog(t)

	tests := []struct {
		name     string
		explicit string
		header   string
		want     language.Tag
	}{
		{"nothing", "", "", language.English},
		{"explicit", "fr", "", language.French},
		{"explicit beats header", "es", "fr-CH, fr;q=0.9", language.Spanish},
		{"header", "", "fr-CH, fr;q=0.9, en;q=0.8", language.French},
		{"unsupported", "", "ja", language.English},
		{"garbage", "???", "", language.English},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Match(tt.explicit, tt.header)
			base, _ := got.Base()
			wantBase, _ := tt.want.Base()
			assert.Equal(t, wantBase, base)
		})
	}
}

func TestMessage_Fallbacks(t *testing.T) {
	c := testCatalog(t)

	assert.Equal(t, "Mauvais appareil.", c.Message("fr", "", "device_mismatch"))
	assert.Equal(t, "Wrong device.", c.Message("es", "", "device_mismatch"))
	assert.Equal(t, "missing_key", c.Message("fr", "", "missing_key"))
}

func TestReason_ConflictWording(t *testing.T) {
	c := testCatalog(t)

	assert.Equal(t, "Already registered here.", c.Reason("", "", biometric.ReasonConflictingIdentity, true))
	assert.Equal(t, "Already registered elsewhere.", c.Reason("", "", biometric.ReasonConflictingIdentity, false))
	assert.Equal(t, "Wrong device.", c.Reason("", "", biometric.ReasonDeviceMismatch, false))
}
