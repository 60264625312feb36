// Package pipeline is the event spine of the core: it validates incoming
// events, settles outstanding hardware requests, folds health events into
// the fleet hierarchy, resolves matching policies and hands their actions to
// the dispatcher. Processing is serialized per entity hierarchy and parallel
// across unrelated hierarchies.
package pipeline
