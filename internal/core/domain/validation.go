package domain

import (
	"fmt"
	"net"
	"regexp"
)

var (
	machineCodeRegex = regexp.MustCompile(`^[a-zA-Z0-9\-_]+$`)
	emailRegex       = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)
	productRegex     = regexp.MustCompile(`^[a-zA-Z0-9\s\-_]+$`)
)

// ValidateMachineCode checks the structural shape of a device identifier:
// 10-100 characters of letters, digits, hyphen or underscore. An empty code
// is valid because machine codes are optional.
func ValidateMachineCode(code string) bool {
	if code == "" {
		return true
	}
	if len(code) < 10 || len(code) > 100 {
		return false
	}
	return machineCodeRegex.MatchString(code)
}

// ValidateIPAddress accepts any parseable IPv4 or IPv6 literal. Empty is
// valid because the client IP is optional.
func ValidateIPAddress(ip string) bool {
	if ip == "" {
		return true
	}
	return net.ParseIP(ip) != nil
}

// ValidateIPWhitelist rejects a whitelist containing anything that is not an
// IP literal, naming the first offending entry.
func ValidateIPWhitelist(ips []string) error {
	for _, ip := range ips {
		if ip == "" || net.ParseIP(ip) == nil {
			return fmt.Errorf("%w: invalid IP address in whitelist: %q", ErrValidation, ip)
		}
	}
	return nil
}

// ValidateEmail checks email shape. Empty is valid; email is optional.
func ValidateEmail(email string) bool {
	if email == "" {
		return true
	}
	return emailRegex.MatchString(email)
}

// ValidateProductName bounds product names to 2-100 characters of
// alphanumerics, spaces, hyphens and underscores.
func ValidateProductName(name string) bool {
	if len(name) < 2 || len(name) > 100 {
		return false
	}
	return productRegex.MatchString(name)
}
