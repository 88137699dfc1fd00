// Package tracker defines the domain types shared across the scrape pipeline:
// characters, history snapshots, the tagged ScrapeResult each stage produces,
// and the collaborator interfaces the orchestrator is wired with.
package tracker
