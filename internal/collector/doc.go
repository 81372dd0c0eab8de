// Package collector buffers the bit stream an experiment session
// observes. Bits accumulate in two bounded rings, baseline and
// experiment, and events are pinned to positions in the experiment
// stream as markers so analysis can align windows around them.
package collector
