package pipeline

import (
	"fmt"

	"subflow/internal/tool"
)

// burnStyle is the fixed subtitle rendering style: Arial 10, white fill with a
// 1px black outline, no shadow, not bold, 10px bottom margin, bottom-center.
const burnStyle = "FontName=Arial,FontSize=10,PrimaryColour=&H00FFFFFF," +
	"OutlineColour=&H00000000,BorderStyle=1,Outline=1,Shadow=0,Bold=0," +
	"MarginV=10,Alignment=2"

// extractAudioCommand downsamples the source video to the 16kHz mono PCM wav
// the transcriber expects.
func (p *Processor) extractAudioCommand(sourcePath, audioPath string) tool.Command {
	return tool.Command{
		Name: p.ffmpegBin,
		Args: []string{
			"-y",
			"-hide_banner",
			"-loglevel", "error",
			"-i", sourcePath,
			"-vn",
			"-ac", "1",
			"-ar", "16000",
			"-c:a", "pcm_s16le",
			audioPath,
		},
	}
}

// transcribeCommand runs the speech-to-text tool over the extracted audio.
// The tool writes <audio base>.srt into the outputs directory, which is
// exactly the subtitle path the workspace manager derives.
func (p *Processor) transcribeCommand(audioPath string) tool.Command {
	return tool.Command{
		Name: p.whisperBin,
		Args: []string{
			audioPath,
			"--model", p.whisperModel,
			"--output_format", "srt",
			"--output_dir", p.ws.OutputsDir,
		},
		Env: p.whisperEnv,
	}
}

// burnCommand renders the source video with the subtitles filter. It runs in
// the work root and references the temp subtitle by its short relative name
// because the filter's path parsing chokes on longer quoted paths.
func (p *Processor) burnCommand(sourcePath, tempSubtitleName, outputPath string) tool.Command {
	filter := fmt.Sprintf("subtitles=%s:force_style='%s'", tempSubtitleName, burnStyle)
	return tool.Command{
		Name: p.ffmpegBin,
		Args: []string{
			"-y",
			"-hide_banner",
			"-loglevel", "error",
			"-i", sourcePath,
			"-vf", filter,
			"-c:a", "copy",
			outputPath,
		},
		Dir: p.ws.WorkDir,
	}
}
