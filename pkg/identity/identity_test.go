package identity

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "full identity",
			input: "SAL.Flatbed, Version=1.2.3.4, Culture=neutral, PublicKeyToken=a8ac5fc45c3adb8d",
			want:  "SAL.Flatbed, Version=1.2.3.4, Culture=neutral, PublicKeyToken=a8ac5fc45c3adb8d",
		},
		{
			name:  "partial identity keeps only specified parts",
			input: "Acme.Dep, Version=1.0.0.0",
			want:  "Acme.Dep, Version=1.0.0.0",
		},
		{
			name:  "name only",
			input: "Acme.Dep",
			want:  "Acme.Dep",
		},
		{
			name:  "keys are case-insensitive and whitespace is trimmed",
			input: "  Acme.Dep ,version=2.1 ,  CULTURE=en-US, publickeytoken=NULL",
			want:  "Acme.Dep, Version=2.1, Culture=en-US, PublicKeyToken=null",
		},
		{
			name:  "unknown keys ignored",
			input: "Acme.Dep, Version=1.0.0.0, ProcessorArchitecture=MSIL",
			want:  "Acme.Dep, Version=1.0.0.0",
		},
		{
			name:  "empty culture is neutral",
			input: "Acme.Dep, Culture=",
			want:  "Acme.Dep, Culture=neutral",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := Parse(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, id.String())
		})
	}
}

func TestParse_Errors(t *testing.T) {
	inputs := []string{
		"",
		"   ",
		", Version=1.0.0.0",
		"Acme, Version=1",
		"Acme, Version=1.2.3.4.5",
		"Acme, Version=1.x",
		"Acme, Version=70000.0",
		"Acme, PublicKeyToken=abc",
		"Acme, PublicKeyToken=zzzzzzzzzzzzzzzz",
		"Acme, Version=1.0, Version=2.0",
		"Acme, Version",
		"Acme, PublicKey=xyz",
	}

	for _, input := range inputs {
		t.Run(input, func(t *testing.T) {
			_, err := Parse(input)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalid))
		})
	}
}

func TestEqual_IsCaseSensitive(t *testing.T) {
	a := MustParse("Acme.Dep, Version=1.0.0.0")
	b := MustParse("acme.dep, Version=1.0.0.0")
	c := MustParse("Acme.Dep,Version=1.0.0.0")

	assert.False(t, a.Equal(b))
	assert.True(t, a.Equal(c))
}

func TestNew_FormatsAllParts(t *testing.T) {
	id := New("Foo", NewVersion(1, 0, 0, 0), "", nil)
	assert.Equal(t, "Foo, Version=1.0.0.0, Culture=neutral, PublicKeyToken=null", id.String())

	token := []byte{0xb7, 0x7a, 0x5c, 0x56, 0x19, 0x34, 0xe0, 0x89}
	id = New("Foo", NewVersion(4, 0, 0, 0), "neutral", token)
	assert.Equal(t, "Foo, Version=4.0.0.0, Culture=neutral, PublicKeyToken=b77a5c561934e089", id.String())

	// the identity owns its token
	token[0] = 0
	got, ok := id.PublicKeyToken()
	assert.True(t, ok)
	assert.Equal(t, byte(0xb7), got[0])
}

func TestTokenFromPublicKey(t *testing.T) {
	// ECMA standard public key; its token is well known
	ecmaKey := []byte{0, 0, 0, 0, 0, 0, 0, 0, 4, 0, 0, 0, 0, 0, 0, 0}
	assert.Equal(t, "b77a5c561934e089", hex.EncodeToString(TokenFromPublicKey(ecmaKey)))

	assert.Nil(t, TokenFromPublicKey(nil))

	parsed, err := Parse("x, PublicKey=00000000000000000400000000000000")
	require.NoError(t, err)
	assert.Equal(t, "x, PublicKeyToken=b77a5c561934e089", parsed.String())
}

func TestParseVersion(t *testing.T) {
	v, err := ParseVersion("1.2")
	require.NoError(t, err)
	assert.Equal(t, 2, v.Parts)
	assert.Equal(t, "1.2", v.String())

	v, err = ParseVersion("1.2.3.4")
	require.NoError(t, err)
	assert.Equal(t, uint16(4), v.Revision)
	assert.Equal(t, "1.2.3.4", v.String())

	assert.Equal(t, "0.0.0.0", Version{}.String())
}

func TestZeroIdentity(t *testing.T) {
	var id Identity
	assert.True(t, id.IsZero())
	assert.Equal(t, "", id.String())
}

func TestIdentity_JSON(t *testing.T) {
	type doc struct {
		ID Identity `json:"id"`
	}
	in := doc{ID: MustParse("Foo, Version=1.2.0.0, Culture=neutral, PublicKeyToken=null")}

	data, err := json.Marshal(in)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"Foo, Version=1.2.0.0, Culture=neutral, PublicKeyToken=null"}`, string(data))

	var out doc
	require.NoError(t, json.Unmarshal(data, &out))
	assert.True(t, in.ID.Equal(out.ID))

	require.NoError(t, json.Unmarshal([]byte(`{"id":""}`), &out))
	assert.True(t, out.ID.IsZero())

	err = json.Unmarshal([]byte(`{"id":"Foo, Version=x"}`), &out)
	assert.ErrorIs(t, err, ErrInvalid)
}
