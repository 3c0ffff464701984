// Package mysql holds the connection, migration and transaction helpers shared
// by the MySQL entity stores of the escrow and validation engines.
package mysql
