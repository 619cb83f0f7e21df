/*
Package reconciler watches a store cluster for drift between what it records
and what is actually true.

Every probe interval (10 seconds by default) a cycle does two things:

  - Probes each other member's Raft address with a health.TCPChecker. A
    member is reported unreachable after Retries failures in a row, which
    publishes events.EventMemberUnreachable and sets burrow_member_reachable
    to 0. The next successful probe publishes EventMemberReachable.
  - Walks every volume record and flags the ones whose device does not fit
    their state: CREATED and DETACHED records must not hold a device, while
    ATTACHED, MOUNTED, UNMOUNTED and FORMATTED records must. Flagged records
    are logged once and counted in burrow_volumes_inconsistent.

The reconciler never rewrites records. Only the instance that owns a volume
can see its host, so repairs go through that instance's lifecycle manager.

	r := reconciler.NewReconciler(mgr, reconciler.Config{
		NodeID: "node-1",
		Events: broker,
	})
	r.Start()
	defer r.Stop()
*/
package reconciler
