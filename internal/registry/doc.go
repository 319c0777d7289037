// Package registry owns the set of registered backends. It publishes
// copy-on-write snapshots for lock-free iteration and emits lifecycle
// events to subscribed strategies on add and remove.
package registry
