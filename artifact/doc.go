// Package artifact contains core.ArtifactStore implementations. Generated
// code and generated test sources are saved here under their issued task
// identifier so later pipeline steps can reload them.
package artifact
