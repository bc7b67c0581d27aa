// Package mysql provides the credential persistence layer backed by MySQL,
// including schema migrations and a file-backed in-memory variant used for
// development and tests.
package mysql
