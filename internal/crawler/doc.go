// Package crawler defines the types and collaborator interfaces shared by the
// crawl engine: jobs and their counters, document records and versions, the
// Connector contract implemented by every repository backend, and the stores,
// queue and publisher the workers write through.
package crawler
