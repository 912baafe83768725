// Package workers contains background workers for layerpack: a periodic
// retention sweeper and a watcher that re-merges tenants when their
// CUSTOM tree changes on local storage.
package workers
