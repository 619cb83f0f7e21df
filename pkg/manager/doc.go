/*
Package manager runs a node of the replicated volume state store.

Managers form a Raft cluster (hashicorp/raft with raft-boltdb log storage).
Every volume record change is a Command applied through the log; the VolumeFSM
applies it to a local storage.BoltStore, so each node answers reads from its
own copy.

# Writes

CreateVolume, UpdateVolumeFields and DeleteVolume are applied on the leader.
A follower forwards them to the leader's API through the configured Dialer
and returns the leader's answer, so callers can talk to any node. A write
without a deadline is bounded by DefaultApplyTimeout. When no leader is known
the write fails with ErrNoLeader.

Record timestamps come from the Raft log entry rather than the local clock,
so every replica stores identical records.

# Membership

The first node calls Bootstrap. Later nodes call Join with the address of any
member and a token from GenerateJoinToken; the receiving node forwards the
request to the leader, which validates the token and adds the node as a voter
or nonvoter. Tokens expire after 24 hours. A node restarting with existing
Raft state rejoins its cluster and ignores both.

The leader records each joining node as a Member, and a node records itself
whenever it becomes leader, so the API address of every node is available for
forwarding and for `burrow cluster info`.
*/
package manager
