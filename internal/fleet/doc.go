// Package fleet manages the CTHz entity hierarchy: groups contain stations
// and standalone devices, stations cluster 1-3 CTHz-300 units with exactly
// one designated manager.
//
// # Components
//
//   - Repository: persistence interface with a SQLite implementation.
//     Status writes are compare-and-swap guarded so concurrent rollups
//     cannot lose updates across process restarts.
//   - Registry: cached, thread-safe facade over the Repository that also
//     enforces hierarchy invariants (manager membership, station capacity,
//     manager succession on removal).
//
// # Invariants
//
//   - A station's manager device must be a member of that station.
//   - Removing a station's manager promotes another member, or demotes the
//     station to inactive when no members remain.
//   - Station membership never exceeds max_devices (hardware limit 3).
//   - Devices own their status; stations and groups only ever receive
//     derived statuses from the aggregation layer.
package fleet
