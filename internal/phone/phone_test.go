package phone

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qms/token-service/internal/store"
)

func TestNormalizeAcceptedShapes(t *testing.T) {
	cases := []string{
		"+919876543210",
		"919876543210",
		"9876543210",
		"98765 43210",
		"+91 98765-43210",
		"(+91) 98765 43210",
		"91-98765-43210",
		"9876543210\n",
		"\t98765\u00a043210\r\n",
		"+91\u2009987 654 3210",
	}
	for _, raw := range cases {
		got, err := Normalize(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, "+919876543210", got, raw)
	}
}

func TestNormalizeIsIdempotent(t *testing.T) {
	for _, raw := range []string{"9876543210", "+916000000000", "91 7000000000", "8765432109"} {
		first, err := Normalize(raw)
		require.NoError(t, err)
		second, err := Normalize(first)
		require.NoError(t, err)
		assert.Equal(t, first, second)
	}
}

func TestNormalizeRejects(t *testing.T) {
	cases := []string{
		"",
		"12345",
		"5876543210",
		"0987654321",
		"98765432101",
		"+929876543210",
		"+91987654321",
		"98765a3210",
		"+91+9876543210",
		"9876.543210",
		"919",
	}
	for _, raw := range cases {
		_, err := Normalize(raw)
		require.Error(t, err, raw)
		assert.ErrorIs(t, err, store.ErrInvalidPhoneNumber, raw)
		assert.Equal(t, store.KindInvalidPhoneNumber, store.Kind(err))
	}
}

func TestMask(t *testing.T) {
	assert.Equal(t, "*********3210", Mask("+919876543210"))
	assert.Equal(t, "***", Mask("123"))
}
