// Package store implements the Artifact Store: the sole component permitted
// to touch the on-disk root directory. It persists and loads per-service
// config documents and best-effort removes staged outputs at uninstall.
package store
