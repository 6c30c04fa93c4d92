package util

import (
	"net/url"
)

// RedactEndpoint keeps only scheme and host of an rpc endpoint, since paths and queries often carry api keys.
func RedactEndpoint(endpoint string) string {
	hash := HashHex([]byte(endpoint))[:12]

	parsedURL, err := url.Parse(endpoint)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		return hash
	}

	return parsedURL.Scheme + "://" + parsedURL.Host + "#hash=" + hash
}
