package health

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/burrow/pkg/security"
)

// CertChecker checks that the node certificate in a directory chains to its
// ca.crt and is not yet due for rotation.
type CertChecker struct {
	Dir string
}

// NewCertChecker creates a checker for the certificate directory dir
func NewCertChecker(dir string) *CertChecker {
	return &CertChecker{Dir: dir}
}

// Check loads the certificates from disk
func (c *CertChecker) Check(ctx context.Context) Result {
	start := time.Now()

	if !security.CertExists(c.Dir) {
		return failed(start, "missing node.crt, node.key or ca.crt")
	}

	cert, err := security.LoadCertFromFile(c.Dir)
	if err != nil {
		return failed(start, err.Error())
	}
	ca, err := security.LoadCACertFromFile(c.Dir)
	if err != nil {
		return failed(start, err.Error())
	}

	if err := cert.Leaf.CheckSignatureFrom(ca); err != nil {
		return failed(start, fmt.Sprintf("node certificate not signed by ca.crt: %v", err))
	}
	if security.CertNeedsRotation(cert.Leaf) {
		return failed(start, fmt.Sprintf("expires %s, reissue with 'burrow cert issue'", cert.Leaf.NotAfter.Format(time.RFC3339)))
	}

	return passed(start, fmt.Sprintf("%s valid until %s", cert.Leaf.Subject.CommonName, cert.Leaf.NotAfter.Format("2006-01-02")))
}

// Type returns the health check type
func (c *CertChecker) Type() CheckType {
	return CheckTypeCert
}

// Target returns the certificate directory
func (c *CertChecker) Target() string {
	return c.Dir
}
