// Package media holds the output geometry shared by the probe and segment
// packages. Subpackages wrap ffprobe (ffprobe), image preparation and
// duration probing (probe), and per-item encoding plus concatenation
// (segment).
package media
