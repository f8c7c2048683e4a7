package transport

import "crypto/tls"

// NewClientTLSConfig returns the TLS settings used to reach a server under
// test. Test servers run with self-signed certificates, so verification is
// skipped unless a serverName is given.
func NewClientTLSConfig(serverName string) *tls.Config {
	cfg := &tls.Config{
		MinVersion: tls.VersionTLS12,
	}
	if serverName == "" {
		cfg.InsecureSkipVerify = true
	} else {
		cfg.ServerName = serverName
	}
	return cfg
}
