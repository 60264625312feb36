package status

import "github.com/cthz/cthz-core/internal/fleet"

// RollupStation derives a station's status from its member devices.
//
// The rules, in precedence order:
//   - below the quorum floor, or without an assigned manager: inactive
//   - manager device error or offline: error
//   - any member not online: degraded
//   - otherwise: online
//
// "Any member not online" folds error members on non-manager devices into
// degraded, which keeps the iff-relationship: a station is online exactly
// when every member is online.
func RollupStation(st *fleet.Station, members []fleet.Device, quorum int) fleet.Status {
	if len(members) < quorum || st.ManagerDeviceID == nil {
		return fleet.StatusInactive
	}

	for _, d := range members {
		if d.ID == *st.ManagerDeviceID {
			if d.Status == fleet.StatusError || d.Status == fleet.StatusOffline {
				return fleet.StatusError
			}
			break
		}
	}

	for _, d := range members {
		if d.Status != fleet.StatusOnline {
			return fleet.StatusDegraded
		}
	}
	return fleet.StatusOnline
}

// RollupGroup derives a group's status as the worst status among its child
// stations and standalone devices, ordered error > offline > degraded >
// maintenance > online.
//
// Inactive stations are administrative, not unhealthy, so they are excluded
// from the rollup rather than dragging the group down.
func RollupGroup(stations []fleet.Station, standalone []fleet.Device) fleet.Status {
	worst := fleet.StatusOnline
	for _, st := range stations {
		if st.Status == fleet.StatusInactive {
			continue
		}
		if fleet.Worse(st.Status, worst) {
			worst = st.Status
		}
	}
	for _, d := range standalone {
		if fleet.Worse(d.Status, worst) {
			worst = d.Status
		}
	}
	return worst
}
