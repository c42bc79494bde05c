package cloudbridge

import "crypto/tls"

// tlsConfig returns a client TLS config with verification disabled only
// when explicitly configured — the suite defaults to verifying the peer.
func tlsConfig(verify bool) *tls.Config {
	return &tls.Config{InsecureSkipVerify: !verify}
}
