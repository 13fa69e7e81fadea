// Package github is a small typed client for the GitHub REST API.
//
// It covers what harvestbot needs: listing assigned issues, reading an
// issue, commenting, searching repositories, and reading/writing file
// contents. Every request carries token auth and the pinned API version
// header, waits on an outbound token bucket, honors GitHub's rate limit
// headers, and is retried with backoff when the failure is transient.
package github
