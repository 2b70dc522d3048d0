package common

// PackageName is used as the metrics namespace.
const PackageName = "encrypted_db_registry"

// Version is overridden at build time with
// -ldflags "-X github.com/ruteri/encrypted-db-registry/common.Version=..."
var Version = "dev"
