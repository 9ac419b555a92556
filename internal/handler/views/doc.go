// Package views renders the service's HTML pages from templ components.
package views
