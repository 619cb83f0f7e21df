/*
Package health probes the things a volume host and a store cluster depend on.

Four checkers implement Checker:

  - TCPChecker dials an address. The reconciler uses it to track whether
    each store member's Raft address is reachable.
  - HTTPChecker issues a GET and compares the status code, for example
    against an agent's /ready endpoint.
  - CommandChecker runs a host command through a volume.CommandRunner, so
    `burrow doctor` can confirm losetup, mount and mkfs work with the
    configured sudo settings.
  - CertChecker loads a node certificate directory. It fails when ca.crt
    did not sign the node certificate or when that certificate is inside
    the rotation window.

A Status folds consecutive results into a healthy flag: a target turns
unhealthy after Config.Retries failures in a row and healthy again on the
next success. Update reports the transitions so callers log and publish
them once.

	status := health.NewStatus()
	result := health.Run(ctx, health.NewTCPChecker("10.0.0.2:7946"), time.Second)
	if status.Update(result, 3) {
		log.Printf("member now healthy=%v", status.Healthy)
	}
*/
package health
