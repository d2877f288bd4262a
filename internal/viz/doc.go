// Package viz renders probabilistic BVP solves in the terminal.
//
// Plots are drawn with asciigraph. [Watch] is a Bubble Tea model that pulls
// a solve one yielded result at a time and shows the round, the IEKS
// iteration, the acceptance of the current mesh and the error history.
//
// # Key Bindings
//
//	Space - Pause/Resume the solve
//	Q     - Quit
package viz
