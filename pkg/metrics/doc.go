/*
Package metrics defines burrow's Prometheus metrics and the component health
registry behind the /health and /ready endpoints.

Metrics fall in four groups:

	Volume state     burrow_volumes_total{state}, burrow_volumes_inconsistent
	Operations       burrow_volume_operations_total{operation,result},
	                 burrow_volume_operation_duration_seconds{operation},
	                 burrow_attach_wait_seconds,
	                 burrow_host_commands_total{command,result}
	Store cluster    burrow_members_total, burrow_member_reachable{node_id},
	                 burrow_raft_is_leader, burrow_raft_peers_total,
	                 burrow_raft_log_index, burrow_raft_applied_index
	API              burrow_api_requests_total{method,status},
	                 burrow_api_request_duration_seconds{method}

Gauges derived from stored state are refreshed by a Collector on a ticker and,
when RefreshOn is given a broker, right after every event. Counters and
histograms are updated where the work happens, usually through a Timer:

	timer := metrics.NewTimer()
	err := driver.AttachVolume(ctx, id, device, addr)
	timer.ObserveDurationVec(metrics.VolumeOperationDuration, "attach")

Components report their health with RegisterComponent and UpdateComponent.
The node is ready once every component named in SetCriticalComponents is
registered and healthy.
*/
package metrics
