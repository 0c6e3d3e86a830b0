// Package stores provides the persistence layer of the site model.
// It includes SQLite-based storage with WAL mode, embedded migrations,
// transaction-scoped stores and CRUD operations for sites, hostnames,
// layouts, templates, pages, content elements and their revisions,
// path mappings, permissions, libraries and audit logs.
package stores
