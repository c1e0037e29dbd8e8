// Package crm executes authenticated calls against the CRM REST API.
//
// Executor attaches a valid bearer token to every request. When the CRM
// answers 401 on the first attempt it forces one token refresh and retries
// exactly once; a second 401 is reported like any other upstream error.
package crm
