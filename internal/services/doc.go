// Package services holds cross-cutting helpers shared by the external
// collaborator adapters: sentinel error markers used for failure
// classification and context annotations used for structured logging.
package services
