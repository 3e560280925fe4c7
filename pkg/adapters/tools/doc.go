// Package tools implements the tool invoker port: a registry of callable
// adapters behind a uniform name/description/schema/call contract.
package tools
