// Package pdlc assembles the product development lifecycle agents: the SDE
// agent running the coding pipeline, the QA agent running the QA pipeline
// and the Coordinator that delegates each turn to one of them. It also maps
// the process configuration onto models and stores, and describes each
// agent with an A2A card.
package pdlc
