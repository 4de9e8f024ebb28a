package server

import (
	"fmt"
	"net/url"
)

// URIOptions configures BuildURI's output (spec.md §6).
type URIOptions struct {
	TLS             bool
	TLSCertificates string // tls-certificates=<dir>
	TLSPSKFile      string // tls-psk-file=<path>
	Export          string
}

// BuildURI renders the connection URI emitted on standard error at startup
// for a given endpoint (spec.md §6); it returns "" for stdin/activated
// endpoints, which have no externally dialable address.
func BuildURI(e Endpoint, opts URIOptions) string {
	scheme := "nbd"
	if opts.TLS {
		scheme = "nbds"
	}

	var u url.URL
	u.Scheme = scheme
	if opts.Export != "" {
		u.Path = "/" + url.PathEscape(opts.Export)
	}

	switch e.Kind {
	case TransportTCP:
		u.Scheme = scheme
		host := e.Host
		if host == "" {
			host = "0.0.0.0"
		}
		u.Host = fmt.Sprintf("%s:%d", host, e.Port)

	case TransportUnix:
		u.Scheme = scheme + "+unix"
		q := url.Values{}
		q.Set("socket", e.Path)
		u.RawQuery = q.Encode()

	case TransportVSock:
		u.Scheme = scheme + "+vsock"
		u.Host = fmt.Sprintf("%d:%d", e.CID, e.Port)

	default:
		return ""
	}

	if opts.TLS {
		q := u.Query()
		if opts.TLSCertificates != "" {
			q.Set("tls-certificates", opts.TLSCertificates)
		}
		if opts.TLSPSKFile != "" {
			q.Set("tls-psk-file", opts.TLSPSKFile)
		}
		u.RawQuery = q.Encode()
	}

	return u.String()
}
