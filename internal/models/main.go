package models

// ModelRegistry lists every model managed by --auto-migrate.
var ModelRegistry = []interface{}{
	&WaitlistEntry{},
}
