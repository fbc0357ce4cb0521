package executor

import (
	"fmt"
	"path/filepath"
	"strconv"
	"time"
)

// Profile is one named combination of format, quality and client settings
// passed to the extraction tool.
type Profile struct {
	Name         string
	Format       string
	ExtractAudio bool
	AudioFormat  string
	AudioQuality string
	PlayerClient string
	ExtraArgs    []string
}

// DefaultProfiles returns the ordered fallback list used when none is configured.
func DefaultProfiles() []Profile {
	return []Profile{
		{
			Name:         "audio-mp3",
			Format:       "bestaudio/best",
			ExtractAudio: true,
			AudioFormat:  "mp3",
			AudioQuality: "192",
		},
		{
			Name:         "audio-android",
			Format:       "bestaudio/best",
			ExtractAudio: true,
			AudioFormat:  "mp3",
			AudioQuality: "192",
			PlayerClient: "android",
		},
		{
			Name:   "best",
			Format: "best",
		},
	}
}

// Validate checks the profile can be turned into arguments
func (p Profile) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("profile name is required")
	}
	if p.ExtractAudio && p.AudioFormat == "" {
		return fmt.Errorf("profile %q: audio_format is required when extract_audio is set", p.Name)
	}
	return nil
}

// networkArgs are shared by every profile
func networkArgs(socketTimeout time.Duration) []string {
	return []string{
		"--no-playlist",
		"--no-warnings",
		"--no-progress",
		"--socket-timeout", strconv.Itoa(int(socketTimeout.Seconds())),
		"--retries", "2",
		"--fragment-retries", "2",
	}
}

// buildArgs renders the argument list for one attempt. The output template is
// unique per job so concurrent jobs never share a file name.
func (e *Executor) buildArgs(req Request, p Profile) []string {
	args := networkArgs(e.socketTimeout)
	args = append(args,
		"--dump-json", "--no-simulate",
		"-o", filepath.Join(e.outputDir, req.JobID+".%(ext)s"),
	)

	if p.Format != "" {
		args = append(args, "-f", p.Format)
	}

	if p.ExtractAudio {
		args = append(args, "--extract-audio", "--audio-format", p.AudioFormat)
		if p.AudioQuality != "" {
			args = append(args, "--audio-quality", p.AudioQuality)
		}
	}

	if p.PlayerClient != "" {
		args = append(args, "--extractor-args", "youtube:player_client="+p.PlayerClient)
	}

	if e.ffmpegPath != "" {
		args = append(args, "--ffmpeg-location", e.ffmpegPath)
	}

	args = append(args, p.ExtraArgs...)

	// "--" keeps a URL starting with a dash from being read as an option
	return append(args, "--", req.URL)
}
