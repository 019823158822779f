// Package probe prepares item images for encoding and measures narration
// length.
//
// ResizeToFrame letterboxes an image into the fixed output frame with ffmpeg;
// ProbeDuration reads the audio duration through ffprobe and rounds it to two
// decimals so segment lengths are stable across runs.
package probe
