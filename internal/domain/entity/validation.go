package entity

import (
	"fmt"
	"net/url"
	"strings"
)

// maxURLLength defines the maximum allowed length for URLs to prevent DoS attacks.
const maxURLLength = 2048

// ValidateActionURL validates the link a notification opens when clicked.
// Site-relative paths ("/courses/42") and absolute http(s) URLs are accepted.
func ValidateActionURL(rawURL string) error {
	if len(rawURL) > maxURLLength {
		return &ValidationError{
			Field:   "action_url",
			Message: fmt.Sprintf("action_url must not exceed %d characters", maxURLLength),
		}
	}

	// protocol-relative URLs would escape the site
	if strings.HasPrefix(rawURL, "/") && !strings.HasPrefix(rawURL, "//") {
		if _, err := url.ParseRequestURI(rawURL); err != nil {
			return &ValidationError{Field: "action_url", Message: "action_url is invalid"}
		}
		return nil
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return &ValidationError{Field: "action_url", Message: "action_url is invalid"}
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return &ValidationError{Field: "action_url", Message: "action_url must use http or https scheme"}
	}
	if parsed.Host == "" {
		return &ValidationError{Field: "action_url", Message: "action_url must have a valid host"}
	}
	return nil
}

// ValidateHTTPSEndpoint validates an outbound provider endpoint taken from
// configuration. Plain http is only accepted for loopback hosts.
func ValidateHTTPSEndpoint(rawURL string) error {
	if rawURL == "" {
		return &ValidationError{Field: "url", Message: "url is required"}
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse URL: %w", err)
	}
	if parsed.Host == "" {
		return &ValidationError{Field: "url", Message: "url must have a valid host"}
	}
	switch parsed.Scheme {
	case "https":
		return nil
	case "http":
		host := parsed.Hostname()
		if host == "localhost" || host == "127.0.0.1" || host == "::1" {
			return nil
		}
		return &ValidationError{Field: "url", Message: "url must use https"}
	default:
		return &ValidationError{Field: "url", Message: "url must use https"}
	}
}
