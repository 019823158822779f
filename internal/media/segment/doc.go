// Package segment encodes one still-plus-narration clip per item and joins
// the clips into the final video.
//
// Every segment shares one Profile (resolution, frame rate, codecs), which is
// what lets Concat use the concat demuxer with stream copy instead of a
// second encode.
package segment
