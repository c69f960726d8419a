// Package objects holds the persisted records and wire payloads shared by biz, api and
// the reconcile worker. Keeping them here avoids import cycles between those packages.
// Table models carry gorm tags; JSON tags use snake_case throughout.
package objects
