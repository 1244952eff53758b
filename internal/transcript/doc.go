// Package transcript downloads, parses, and enriches meeting transcripts.
// Transcripts arrive as newline-delimited JSON records; speaker identifiers
// are resolved against the human-user and agent tables, falling back to
// "Unknown" when neither matches.
package transcript
