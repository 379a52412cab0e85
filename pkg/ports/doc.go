/*
Package ports defines the driven ports (interfaces) of the dispatch core.

These interfaces decouple session handling from external implementations, so a
single dispatching process can keep ended-session state in memory or in Redis
and coordinate with other replicas when it runs behind a load balancer.

# Key Interfaces

  - SnapshotStore: Persists the final state of ended sessions and restores it on restart.
  - DistributedLocker: Provides distributed locking for concurrent access to one session.
*/
package ports
