// Package ports declares the interfaces between the application core and its
// adapters: event bus, session store, LLM provider, tool invoker, credential
// resolver, metrics and the diagnostic sink. Application code depends on
// these interfaces only; pkg/adapters supplies the implementations.
package ports
