package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsEnglish(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"", false},
		{"Tesla", true},
		{"Tesla Inc", true},
		{englishSnippet, true},
		{"Die Firma baut Elektroautos in Berlin", false},
		{"特斯拉 是 一家 电动车 公司", false},
		{"The", true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsEnglish(tt.text), tt.text)
	}
}

func TestDeclaredEnglish(t *testing.T) {
	assert.True(t, declaredEnglish(""))
	assert.True(t, declaredEnglish("EN"))
	assert.True(t, declaredEnglish("en-US"))
	assert.False(t, declaredEnglish("fr"))
	assert.False(t, declaredEnglish("eng-x"))
}

func TestSanitize(t *testing.T) {
	assert.Equal(t, "Q4 deliveries rose", Sanitize("<div>Q4 <em>deliveries</em>\n rose</div>"))
	assert.Equal(t, "AT&T", Sanitize("AT&amp;T"))
	assert.Equal(t, "", Sanitize("<script>alert(1)</script>"))
}

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"HTTPS://Example.COM/Path/", "https://example.com/Path"},
		{"https://example.com/a#frag", "https://example.com/a"},
		{"https://example.com/a?b=2&a=1", "https://example.com/a?a=1&b=2"},
		{"https://example.com/", "https://example.com"},
		{"ftp://files.example/x", "ftp://files.example/x"},
	}
	for _, tt := range tests {
		got, err := NormalizeURL(tt.in)
		assert.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := NormalizeURL("https:///nohost")
	assert.Error(t, err)
}
