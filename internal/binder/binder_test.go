package binder

import (
	"testing"
	"time"

	"github.com/katiya-cw/openesb-standalone/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

type simple struct {
	A int    `bind:"a"`
	B string `bind:"b"`
}

type base struct {
	User     string `bind:"user"`
	Timeout  int    `bind:"timeout"`
	Shadowed string `bind:"shadowed"`
}

type derived struct {
	base
	URL      string `bind:"url"`
	Shadowed string `bind:"shadowed"`
}

type left struct {
	Region string `bind:"region"`
	Zone   string `bind:"zone"`
}

type right struct {
	Region string `bind:"region"`
}

type ambiguous struct {
	left
	right
}

type resolved struct {
	ambiguous
	Region string `bind:"region"`
}

type withPointer struct {
	*Embedded
	Name string
}

type Embedded struct {
	Depth int `bind:"depth"`
}

type scalars struct {
	Byte     uint8
	Tiny     int8
	Flag     bool
	Letter   Char
	Short    int16
	Int      int
	Int32    int32
	Long     int64
	Float    float32
	Double   float64
	Text     string
	Wait     time.Duration
	Tags     []string
	hidden   int
	Excluded string `bind:"-"`
}

func bind(t *testing.T, target interface{}, src map[string]string) Results {
	t.Helper()
	res, err := New(logger.NewTest(t)).Bind(target, src)
	require.NoError(t, err)
	return res
}

func TestBind_PartialTolerance(t *testing.T) {
	target := &simple{}
	res := bind(t, target, map[string]string{"a": "5", "c": "ignored", "b": "x"})

	assert.Equal(t, 5, target.A)
	assert.Equal(t, "x", target.B)

	require.Len(t, res, 3)
	assert.Equal(t, []string{"a", "b"}, res.Set())
	skipped := res.Skipped()
	require.Len(t, skipped, 1)
	assert.Equal(t, "c", skipped[0].Name)
	assert.Equal(t, StatusUnknown, skipped[0].Status)
}

func TestBind_Coercion(t *testing.T) {
	target := &scalars{Int: 7}
	res := bind(t, target, map[string]string{
		"Byte":   "200",
		"Tiny":   "-5",
		"Flag":   "true",
		"Letter": "xyz",
		"Short":  "1234",
		"Int":    "abc",
		"Int32":  "42",
		"Long":   "9000000000",
		"Float":  "1.5",
		"Double": "2.25",
		"Text":   "hello",
		"Wait":   "1500",
	})

	assert.Equal(t, uint8(200), target.Byte)
	assert.Equal(t, int8(-5), target.Tiny)
	assert.True(t, target.Flag)
	assert.Equal(t, Char('x'), target.Letter)
	assert.Equal(t, int16(1234), target.Short)
	assert.Equal(t, 7, target.Int, "malformed text must leave the prior value")
	assert.Equal(t, int32(42), target.Int32)
	assert.Equal(t, int64(9000000000), target.Long)
	assert.Equal(t, float32(1.5), target.Float)
	assert.Equal(t, 2.25, target.Double)
	assert.Equal(t, "hello", target.Text)
	assert.Equal(t, 1500*time.Millisecond, target.Wait)

	skipped := res.Skipped()
	require.Len(t, skipped, 1)
	assert.Equal(t, "Int", skipped[0].Name)
	assert.Equal(t, StatusFailed, skipped[0].Status)
	assert.Error(t, skipped[0].Err)
}

func TestBind_Failures(t *testing.T) {
	tests := []struct {
		name   string
		key    string
		value  string
		status Status
	}{
		{"overflow byte", "Byte", "300", StatusFailed},
		{"overflow int8", "Tiny", "128", StatusFailed},
		{"empty char", "Letter", "", StatusFailed},
		{"bad float", "Double", "1.2.3", StatusFailed},
		{"bad duration", "Wait", "soon", StatusFailed},
		{"slice unsupported", "Tags", "a,b", StatusUnsupported},
		{"unexported", "hidden", "1", StatusFailed},
		{"excluded by tag", "Excluded", "x", StatusUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := &scalars{}
			res := bind(t, target, map[string]string{tt.key: tt.value, "Text": "ok"})
			require.Len(t, res, 2)
			for _, r := range res {
				if r.Name == tt.key {
					assert.Equal(t, tt.status, r.Status)
				}
			}
			// the other entry is applied regardless
			assert.Equal(t, "ok", target.Text)
		})
	}
}

func TestBind_EmbeddedFields(t *testing.T) {
	target := &derived{}
	bind(t, target, map[string]string{
		"user":     "sa",
		"timeout":  "30",
		"url":      "jdbc:x",
		"shadowed": "outer",
	})
	assert.Equal(t, "sa", target.User)
	assert.Equal(t, 30, target.Timeout)
	assert.Equal(t, "jdbc:x", target.URL)
	assert.Equal(t, "outer", target.Shadowed)
	assert.Empty(t, target.base.Shadowed)
}

func TestBind_AmbiguousEmbeddedFields(t *testing.T) {
	target := &ambiguous{}
	res := bind(t, target, map[string]string{"region": "eu", "zone": "a"})
	assert.Equal(t, []string{"zone"}, res.Set())
	assert.Equal(t, "a", target.Zone)
	assert.Empty(t, target.left.Region)
	assert.Empty(t, target.right.Region)
	for _, r := range res {
		if r.Name == "region" {
			assert.Equal(t, StatusUnknown, r.Status)
		}
	}

	outer := &resolved{}
	bind(t, outer, map[string]string{"region": "us"})
	assert.Equal(t, "us", outer.Region, "a shallower field resolves the ambiguity")
	assert.Empty(t, outer.left.Region)
}

func TestBind_LenientBool(t *testing.T) {
	for raw, want := range map[string]bool{
		"true":  true,
		"TRUE":  true,
		" 1 ":   true,
		"false": false,
		"yes":   false,
		"on":    false,
		"maybe": false,
		"":      false,
	} {
		target := &scalars{Flag: !want}
		res := bind(t, target, map[string]string{"Flag": raw})
		assert.Equal(t, []string{"Flag"}, res.Set(), raw)
		assert.Equal(t, want, target.Flag, raw)
	}
}

func TestBind_NilEmbeddedPointer(t *testing.T) {
	target := &withPointer{}
	res := bind(t, target, map[string]string{"depth": "3", "Name": "n"})
	assert.Equal(t, []string{"Name", "depth"}, res.Set())
	require.NotNil(t, target.Embedded)
	assert.Equal(t, 3, target.Depth)
}

func TestBind_InvalidTarget(t *testing.T) {
	b := New(logger.Nop())
	for _, target := range []interface{}{nil, simple{}, (*simple)(nil), new(int)} {
		_, err := b.Bind(target, map[string]string{"a": "1"})
		assert.ErrorIs(t, err, ErrNotStruct)
	}
}

func TestStatus_String(t *testing.T) {
	assert.Equal(t, "set", StatusSet.String())
	assert.Equal(t, "unsupported", StatusUnsupported.String())
	assert.Equal(t, "Status(9)", Status(9).String())
}

// Bind never fails as a whole and every input entry gets exactly one result.
func TestBind_OneResultPerEntry(t *testing.T) {
	b := New(logger.Nop())
	rapid.Check(t, func(t *rapid.T) {
		keys := rapid.SampledFrom([]string{"Byte", "Flag", "Int", "Text", "Wait", "Tags", "nope", "hidden"})
		src := rapid.MapOf(keys, rapid.String()).Draw(t, "src")

		target := &scalars{}
		res, err := b.Bind(target, src)
		if err != nil {
			t.Fatalf("Bind returned error: %v", err)
		}
		if len(res) != len(src) {
			t.Fatalf("got %d results for %d entries", len(res), len(src))
		}
		for i := 1; i < len(res); i++ {
			if res[i-1].Name >= res[i].Name {
				t.Fatalf("results not sorted: %q before %q", res[i-1].Name, res[i].Name)
			}
		}
		if v, ok := src["Text"]; ok && target.Text != v {
			t.Fatalf("Text = %q, want %q", target.Text, v)
		}
	})
}
