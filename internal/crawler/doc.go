// Package crawler implements the incremental fund document crawl: the
// pagination walker, the row evaluator with its two dedup checks, the content
// fetcher, and the engine that scopes one crawl's store and browser session.
package crawler
