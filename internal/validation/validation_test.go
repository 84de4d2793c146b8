package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateURL(t *testing.T) {
	tests := []struct {
		name      string
		url       string
		expectErr bool
	}{
		{"http localhost", "http://localhost:5000", false},
		{"https host", "https://example.com", false},
		{"loopback with path", "http://127.0.0.1:3000/health", false},
		{"query params", "https://example.com?param=value", false},
		{"ipv6 loopback", "http://[::1]:5000", false},

		{"javascript scheme", "javascript:alert(1)", true},
		{"file scheme", "file:///etc/passwd", true},
		{"ftp scheme", "ftp://example.com", true},
		{"no scheme", "localhost:5000", true},
		{"relative", "/index.html", true},
		{"empty host", "http://", true},
		{"port only", "http://:5000", true},
		{"space", "http://local host:5000", true},
		{"newline", "http://localhost:5000\n", true},
		{"tab", "http://localhost\t:5000", true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateURL(tt.url)
			if tt.expectErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateConsoleArgument(t *testing.T) {
	valid := []string{
		"python",
		"app.py",
		`C:\Users\alex\Desktop\my site`,
		"a&b|c<d>e^f",
		`C:\Users\alex\Desktop\سطح المكتب\site`,
		"",
	}
	for _, arg := range valid {
		assert.NoError(t, ValidateConsoleArgument(arg), "arg %q", arg)
	}

	invalid := []string{
		"%PATH%",
		"100%",
		"hello!",
		`say "hi"`,
		"line\nbreak",
		"carriage\rreturn",
		"nul\x00byte",
	}
	for _, arg := range invalid {
		assert.Error(t, ValidateConsoleArgument(arg), "arg %q", arg)
	}
}
