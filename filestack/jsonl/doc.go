// Package jsonl reads JSON Lines files as FileStacks. This package uses https://github.com/tidwall/gjson to process data, and supports Schema column names formatted as gjson paths.
package jsonl
