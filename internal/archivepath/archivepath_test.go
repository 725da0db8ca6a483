package archivepath_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/barrowworks/barrow/internal/archivepath"
	"github.com/barrowworks/barrow/internal/model"
	"github.com/barrowworks/barrow/pkg/changefeed"
)

func TestDerive(t *testing.T) {
	key := []model.KeyAttribute{
		{Name: "PK", Value: changefeed.String("USER#123")},
		{Name: "SK", Value: changefeed.String("PROFILE")},
	}

	path, err := archivepath.Derive("users-prod", key)
	require.NoError(t, err)
	assert.Equal(t, "users-prod/PK=USER%23123/SK=PROFILE.json", path)
}

func TestDerive_Deterministic(t *testing.T) {
	key := []model.KeyAttribute{
		{Name: "id", Value: changefeed.String("user-123")},
		{Name: "timestamp", Value: changefeed.Number("1234567890")},
	}

	first, err := archivepath.Derive("events", key)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := archivepath.Derive("events", key)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
	assert.Equal(t, "events/id=user-123/timestamp=1234567890.json", first)
}

func TestDerive_Errors(t *testing.T) {
	_, err := archivepath.Derive("", []model.KeyAttribute{{Name: "pk", Value: changefeed.String("a")}})
	assert.Error(t, err)

	_, err = archivepath.Derive("src", nil)
	assert.Error(t, err)
}

func TestDerive_DistinctIdentitiesDistinctPaths(t *testing.T) {
	// Pairs that would collide under naive concatenation.
	a, err := archivepath.Derive("src", []model.KeyAttribute{{Name: "a", Value: changefeed.String("b=c")}})
	require.NoError(t, err)
	b, err := archivepath.Derive("src", []model.KeyAttribute{{Name: "a=b", Value: changefeed.String("c")}})
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	c, err := archivepath.Derive("src", []model.KeyAttribute{{Name: "k", Value: changefeed.String("x/y")}})
	require.NoError(t, err)
	d, err := archivepath.Derive("src", []model.KeyAttribute{
		{Name: "k", Value: changefeed.String("x")},
		{Name: "y", Value: changefeed.String("")},
	})
	require.NoError(t, err)
	assert.NotEqual(t, c, d)
}

func TestOrder_SchemaOrderWins(t *testing.T) {
	key := map[string]changefeed.AttributeValue{
		"SK": changefeed.String("PROFILE"),
		"PK": changefeed.String("USER#123"),
	}

	ordered := archivepath.Order(key, []string{"PK", "SK"})
	require.Len(t, ordered, 2)
	assert.Equal(t, "PK", ordered[0].Name)
	assert.Equal(t, "SK", ordered[1].Name)

	// Input order (and map iteration order) must not matter: derive from
	// the same logical key many times and compare.
	path0, err := archivepath.Derive("users-prod", ordered)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := archivepath.Derive("users-prod", archivepath.Order(key, []string{"PK", "SK"}))
		require.NoError(t, err)
		assert.Equal(t, path0, again)
	}
}

func TestOrder_LexicographicFallback(t *testing.T) {
	key := map[string]changefeed.AttributeValue{
		"zeta":  changefeed.Number("1"),
		"alpha": changefeed.Number("2"),
		"mid":   changefeed.Number("3"),
	}

	ordered := archivepath.Order(key, nil)
	require.Len(t, ordered, 3)
	assert.Equal(t, "alpha", ordered[0].Name)
	assert.Equal(t, "mid", ordered[1].Name)
	assert.Equal(t, "zeta", ordered[2].Name)
}

func TestOrder_SchemaSubset(t *testing.T) {
	key := map[string]changefeed.AttributeValue{
		"extra": changefeed.String("x"),
		"PK":    changefeed.String("p"),
	}

	ordered := archivepath.Order(key, []string{"PK", "SK"})
	require.Len(t, ordered, 2)
	assert.Equal(t, "PK", ordered[0].Name)
	assert.Equal(t, "extra", ordered[1].Name)
}

func TestEscapeUnescapeRoundTrip(t *testing.T) {
	inputs := []string{
		"plain",
		"USER#123",
		"with space",
		"percent%sign",
		"slash/and=equals",
		"unicode-émoji-é世界",
		"",
		"..",
		"%2F-literal",
	}

	for _, in := range inputs {
		esc := archivepath.Escape(in)
		got, err := archivepath.Unescape(esc)
		require.NoError(t, err, "input %q escaped %q", in, esc)
		assert.Equal(t, in, got)
	}
}

func TestEscape_InjectiveOnSeparators(t *testing.T) {
	assert.NotEqual(t, archivepath.Escape("a/b"), "a/b")
	assert.NotEqual(t, archivepath.Escape("a=b"), "a=b")
	assert.NotEqual(t, archivepath.Escape("a%b"), archivepath.Escape("a%25b"))
}

func TestUnescape_Invalid(t *testing.T) {
	_, err := archivepath.Unescape("abc%2")
	assert.Error(t, err)

	_, err = archivepath.Unescape("abc%ZZ")
	assert.Error(t, err)
}

func TestParse(t *testing.T) {
	id, err := archivepath.Parse("users-prod/PK=USER%23123/SK=PROFILE.json")
	require.NoError(t, err)
	assert.Equal(t, "users-prod", id.Source)
	require.Len(t, id.Key, 2)
	assert.Equal(t, archivepath.IdentityAttr{Name: "PK", Value: "USER#123"}, id.Key[0])
	assert.Equal(t, archivepath.IdentityAttr{Name: "SK", Value: "PROFILE"}, id.Key[1])
}

func TestParse_Invalid(t *testing.T) {
	testCases := []struct {
		name string
		path string
	}{
		{"no extension", "src/PK=1"},
		{"no key segment", "src.json"},
		{"segment without separator", "src/PK.json"},
		{"bad escape", "src/PK=%G1.json"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := archivepath.Parse(tc.path)
			assert.Error(t, err)
		})
	}
}

func TestDeriveParseRoundTrip(t *testing.T) {
	key := []model.KeyAttribute{
		{Name: "tenant/id", Value: changefeed.String("acme=1")},
		{Name: "created", Value: changefeed.Number("1700000000")},
	}

	path, err := archivepath.Derive("audit events", key)
	require.NoError(t, err)

	id, err := archivepath.Parse(path)
	require.NoError(t, err)
	assert.Equal(t, "audit events", id.Source)
	require.Len(t, id.Key, 2)
	assert.Equal(t, "tenant/id", id.Key[0].Name)
	assert.Equal(t, "acme=1", id.Key[0].Value)
	assert.Equal(t, "1700000000", id.Key[1].Value)
}
