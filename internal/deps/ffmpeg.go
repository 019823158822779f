package deps

import (
	"os/exec"
	"strings"
)

// ResolveMediaTool returns the configured binary when set, otherwise name.
// A bare name is resolved against PATH so status output shows the file that
// will actually run.
func ResolveMediaTool(configured, name string) string {
	bin := strings.TrimSpace(configured)
	if bin == "" {
		bin = name
	}
	if resolved, err := exec.LookPath(bin); err == nil {
		return resolved
	}
	return bin
}

// MediaRequirements lists ffmpeg and ffprobe for the given binaries.
func MediaRequirements(ffmpeg, ffprobe string) []Requirement {
	return []Requirement{
		{
			Name:        "FFmpeg",
			Command:     ResolveMediaTool(ffmpeg, "ffmpeg"),
			Description: "Required for image resizing, segment encoding and concatenation",
		},
		{
			Name:        "FFprobe",
			Command:     ResolveMediaTool(ffprobe, "ffprobe"),
			Description: "Required for audio duration probing",
		},
	}
}

// WorkerRequirement describes the synthesis worker launch command. It is
// optional because the worker may be started outside narrate.
func WorkerRequirement(command []string) Requirement {
	req := Requirement{
		Name:        "Synthesis worker",
		Description: "Launched on demand to serve speech synthesis requests",
		Optional:    true,
	}
	if len(command) > 0 {
		req.Command = command[0]
	}
	return req
}
