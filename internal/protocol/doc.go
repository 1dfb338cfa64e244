// Package protocol provides the stimulation waveform families a design run can
// optimize over.
//
// Each Family has a fixed arity. Build validates the parameter count and returns a
// pure function of time, so one waveform can be shared by concurrent simulator calls.
//
// Families:
//   - constant(a)
//   - step(amplitude, duration), active on (1, 1+duration)
//   - sine(amplitude, frequency)
//   - multisine(a1..an, f1..fn)
//   - events(d1..dn, a1..an), consecutive events starting at t=1
//   - interpolated(v1..vn), piecewise linear through n evenly spaced knots on [0, span]
package protocol
