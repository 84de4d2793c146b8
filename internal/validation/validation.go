// Package validation checks values that end up in URLs or in command lines
// built for another program to parse.
package validation

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidateURL accepts absolute http and https URLs with a host. Whitespace
// and control characters are rejected anywhere in the string.
func ValidateURL(rawURL string) error {
	for _, r := range rawURL {
		if r <= ' ' || r == 0x7f {
			return fmt.Errorf("URL contains whitespace or a control character")
		}
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("invalid URL scheme %q (only http/https allowed)", parsed.Scheme)
	}
	if parsed.Host == "" || parsed.Hostname() == "" {
		return fmt.Errorf("URL must have a valid hostname")
	}
	return nil
}

// consoleDangerous are characters cmd.exe interprets even inside double
// quotes.
var consoleDangerous = []string{"%", "!", "\"", "\r", "\n", "\x00"}

// ValidateConsoleArgument rejects an argument that cannot be placed safely
// inside a double-quoted cmd.exe word.
func ValidateConsoleArgument(arg string) error {
	for _, char := range consoleDangerous {
		if strings.Contains(arg, char) {
			return fmt.Errorf("contains character %q that the console would interpret", char)
		}
	}
	return nil
}
