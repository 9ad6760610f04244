package imap

import (
	"strings"

	"mailthread/internal/mime"

	gomail "github.com/emersion/go-message/mail"
)

// parseAddresses returns the lower-cased addresses of a header value,
// falling back to a lenient split when the list does not parse.
func parseAddresses(header string) []string {
	addrs, _ := parseAddressList(header)
	return addrs
}

// parseAddressList also returns the display name of the first address.
func parseAddressList(header string) ([]string, string) {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil, ""
	}
	list, err := gomail.ParseAddressList(header)
	if err != nil {
		return parseAddressesFallback(header)
	}
	result := make([]string, 0, len(list))
	name := ""
	for i, addr := range list {
		if addr.Address == "" {
			continue
		}
		if i == 0 {
			name = strings.TrimSpace(addr.Name)
		}
		result = append(result, strings.ToLower(addr.Address))
	}
	return deduplicateAddresses(result), name
}

func parseAddressesFallback(header string) ([]string, string) {
	parts := strings.Split(header, ",")
	result := make([]string, 0, len(parts))
	name := ""
	for i, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if start := strings.LastIndex(p, "<"); start != -1 {
			if end := strings.LastIndex(p, ">"); end > start {
				email := strings.TrimSpace(p[start+1 : end])
				if email != "" {
					result = append(result, strings.ToLower(email))
					if i == 0 {
						name = strings.Trim(strings.TrimSpace(mime.DecodeHeader(p[:start])), `"`)
					}
				}
				continue
			}
		}
		if strings.Contains(p, "@") {
			result = append(result, strings.ToLower(p))
		}
	}
	return deduplicateAddresses(result), name
}

func deduplicateAddresses(addresses []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(addresses))
	for _, addr := range addresses {
		lower := strings.ToLower(addr)
		if !seen[lower] {
			seen[lower] = true
			result = append(result, addr)
		}
	}
	return result
}
