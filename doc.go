// Package daktela provides a data extractor for the Daktela contact center
// API v6. It pulls tickets, activities, contacts and related resources into
// per-table CSV files suitable for loading into a data warehouse.
//
// # Architecture
//
// The extractor runs in two phases. Independent endpoints (users, accounts,
// contacts, tickets, statuses and ticket categories) are fetched first,
// concurrently, each paginated with skip/take and bounded by a shared request
// semaphore. Activities are fetched next and establish the set of valid
// parent ids; dependent endpoints such as per-activity call detail then issue
// one sub-resource request per parent id, in parent order.
//
// Fetched records flow through a deterministic transformation: nested
// objects are flattened, HTML markup is stripped, configured list columns are
// exploded into row multiples, column names are sanitized and a synthetic id
// column is derived from the endpoint's key fields. Transformed rows are batched
// into per-table CSV files with optional gzip compression and load manifests.
//
// # Key Packages
//
//	pkg/daktela    - Daktela API v6 client: login, pagination, filters, retries
//	pkg/transform  - JSON record to flat row transformation
//	pkg/extractor  - Two-phase orchestration and dependency resolution
//	pkg/sink       - CSV output with manifests and id read-back
//	pkg/config     - YAML configuration and the endpoint catalog
//	pkg/errors     - Structured error handling
//	pkg/logger     - High-performance structured logging
//	pkg/metrics    - Prometheus metrics
//
// # Quick Start
//
// Run an extraction from a YAML configuration:
//
//	daktela-extractor run --config config.yaml
//
// A minimal configuration names the instance and credentials:
//
//	connection:
//	  server: https://acme.daktela.com
//	  username: ${DAKTELA_USERNAME}
//	  password: ${DAKTELA_PASSWORD}
//	data_selection:
//	  endpoints: [tickets, activities, activitiesCall]
//	  date_from: "2024-01-01 00:00:00"
//	destination:
//	  output_dir: ./out
//
// Environment variables are supported with ${VAR_NAME} syntax.
package daktela
