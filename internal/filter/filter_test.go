package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompile_Errors(t *testing.T) {
	tests := []string{
		"",
		"objectClass=foo",
		"(objectClass=foo",
		"(=foo)",
		"(&)",
		"(!(a=1)(b=2))",
		"(a=1))",
		"(a>1)",
		"(a=(b))",
		`(a=b\`,
	}

	for _, src := range tests {
		t.Run(src, func(t *testing.T) {
			_, err := Compile(src)
			require.Error(t, err)

			var syntaxErr SyntaxError
			assert.ErrorAs(t, err, &syntaxErr)
			assert.Equal(t, src, syntaxErr.Filter)
			assert.False(t, Valid(src))
		})
	}
}

func TestMatch(t *testing.T) {
	props := map[string]any{
		"objectClass":     []string{"com.example.Foo", "com.example.Bar"},
		"color":           "red",
		"service.ranking": 10,
		"service.id":      int64(42),
		"weight":          2.5,
		"enabled":         true,
		"description":     "The Quick  Fox",
		"tags":            []any{"a", "b"},
	}

	tests := []struct {
		filter string
		want   bool
	}{
		{"(objectClass=com.example.Foo)", true},
		{"(OBJECTCLASS=com.example.Bar)", true},
		{"(objectClass=com.example.Baz)", false},
		{"(color=red)", true},
		{"(color=Red)", false},
		{"(color~=RED)", true},
		{"(description~=thequickfox)", true},
		{"(color=*)", true},
		{"(shape=*)", false},
		{"(color=r*)", true},
		{"(color=*e*)", true},
		{"(color=*d)", true},
		{"(color=b*)", false},
		{"(service.ranking>=5)", true},
		{"(service.ranking<=5)", false},
		{"(service.ranking=10)", true},
		{"(service.id=42)", true},
		{"(weight>=2)", true},
		{"(enabled=true)", true},
		{"(enabled=false)", false},
		{"(tags=b)", true},
		{"(&(objectClass=com.example.Foo)(color=red))", true},
		{"(&(objectClass=com.example.Foo)(color=blue))", false},
		{"(|(color=blue)(color=red))", true},
		{"(!(color=red))", false},
		{"(!(color=blue))", true},
		{"( & (color=red) (enabled=true) )", true},
		{`(color=re\*)`, false},
	}

	for _, tt := range tests {
		t.Run(tt.filter, func(t *testing.T) {
			f, err := Compile(tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.want, f.Match(props))
			assert.Equal(t, tt.filter, f.String())
		})
	}
}

func TestMatch_NilProps(t *testing.T) {
	f := MustCompile("(a=1)")
	assert.False(t, f.Match(nil))
	assert.True(t, MustCompile("(!(a=1))").Match(nil))
}

func TestEscape(t *testing.T) {
	escaped := Escape(`a*(b)\c`)
	assert.Equal(t, `a\*\(b\)\\c`, escaped)

	f := MustCompile("(name=" + escaped + ")")
	assert.True(t, f.Match(map[string]any{"name": `a*(b)\c`}))
}

func TestMustCompile_Panics(t *testing.T) {
	assert.Panics(t, func() { MustCompile("(broken") })
}
