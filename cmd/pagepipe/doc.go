// Command pagepipe runs simulated documents through the staged page pipeline
// and prints a per-run summary.
//
//	pagepipe run --docs 3 --pages 20 --fail-pages 4,5 --concurrency 2
//	pagepipe config show --format toml
package main
