/*
Package security issues and loads the certificates used for mutual TLS
between store nodes and their clients.

# Certificate Authority

A CertAuthority is a self-signed root created by `burrow cert init`:

	ca := security.NewCertAuthority()
	if err := ca.Initialize(); err != nil {
		return err
	}
	if err := ca.SaveToDir("/var/lib/burrow/ca"); err != nil {
		return err
	}

`burrow cert issue` loads it with LoadFromDir and signs a node certificate
for a name plus its DNS names and IP addresses with IssueCertificate.

# Certificate Directories

A node's certificate directory holds three files:

	node.crt   node certificate (PEM)
	node.key   node private key (PEM, mode 0600)
	ca.crt     root certificate the peer must chain to

SaveCertToFile and SaveCACertToFile write them, and CertExists reports
whether a directory is complete. CertNeedsRotation flags certificates within
30 days of expiry so `burrow doctor` can warn about them.

ServerTLSConfig and ClientTLSConfig build tls.Configs from a directory. Both
require a peer certificate signed by ca.crt, so a node accepts only clients
holding a certificate issued by the same authority.
*/
package security
