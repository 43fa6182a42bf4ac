// Package model defines the provider agnostic abstractions for the reasoning
// capability behind leaf agents and the model based router.
//
// Providers (OpenAI, Anthropic) live in sub-packages and implement Model so
// agents and flows stay decoupled from vendor SDKs. ScriptedModel replays a
// fixed sequence of responses and backs tests and offline runs.
package model
