/*
Package client is a gRPC client for the burrow.v1.VolumeStore API.

A *Client satisfies volume.StateStore, so a lifecycle manager can keep its
records in a remote Raft cluster instead of a local bbolt file. The agent
also uses it through Dialer to forward writes from followers to the leader.

# Connecting

	c, err := client.Dial(ctx, "10.0.0.10:7950", client.Options{
		CertDir: "/var/lib/burrow/certs",
		Timeout: 5 * time.Second,
	})
	if err != nil {
		return err
	}
	defer c.Close()

	v, err := c.GetVolume(ctx, "vol-0abc")

Dial does not block: the connection is made on the first call. With CertDir
set the client presents node.crt and node.key and verifies the server against
ca.crt (see security.ClientTLSConfig). Without it the connection is
plaintext, which suits a loopback agent or tests.

Calls whose context has no deadline get Options.Timeout, or DefaultTimeout
when unset. A caller deadline is never extended.

# Errors

Server errors come back wrapping the store sentinels, so callers test them
the same way whether the store is local or remote:

	err := c.UpdateVolumeFields(ctx, match, fields)
	if errors.Is(err, storage.ErrVolumeNotFound) {
		// no record for this owner
	}

	NotFound            storage.ErrVolumeNotFound
	AlreadyExists       storage.ErrVolumeExists
	FailedPrecondition  storage.ErrAmbiguousDevice
	Unauthenticated     manager.ErrInvalidToken
	Unavailable         manager.ErrNoLeader
	DeadlineExceeded    context.DeadlineExceeded
	Canceled            context.Canceled

Each code restores one sentinel, so a missing member also reads as
ErrVolumeNotFound and an expired token as ErrInvalidToken; the message keeps
the server's text. Other codes are returned as the gRPC status error itself. A read-only server
answers writes with PermissionDenied and throttled callers with
ResourceExhausted.

# Cluster Calls

JoinCluster, GenerateJoinToken and ClusterInfo back the `burrow cluster`
commands and the join step of `burrow agent --join`.
*/
package client
