package themes

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{name: "mixed separators", raw: "Sport, Politics;sport", want: []string{"sport", "politics"}},
		{name: "cyrillic", raw: "Спорт и Политика", want: []string{"спорт", "и", "политика"}},
		{name: "digits kept", raw: "euro2024 / F1", want: []string{"euro2024", "f1"}},
		{name: "only separators", raw: " ,;- !", want: []string{}},
		{name: "empty", raw: "", want: []string{}},
		{name: "yo splits", raw: "ёлка", want: []string{"лка"}},
		{name: "underscore splits", raw: "tech_news", want: []string{"tech", "news"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Normalize(tc.raw))
		})
	}
}
