// Package llm provides streaming LLM provider implementations.
//
// The factory creates providers based on configuration. Currently supports:
//   - Anthropic Claude
package llm
