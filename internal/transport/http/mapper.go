package http

import (
	"errors"
	"strings"

	"github.com/vovakirdan/pipechat-server/internal/core"
	"github.com/vovakirdan/pipechat-server/internal/proto"
)

var errFrameTooLong = errors.New("frame too long")

// splitFrames splits one text message into frame lines, dropping blank ones.
func splitFrames(payload string) []string {
	var frames []string
	for _, line := range strings.Split(payload, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		frames = append(frames, line)
	}
	return frames
}

// frameToCommand maps a client frame onto a command for the session connID.
func frameToCommand(connID, frame string, maxLine int) (core.Command, error) {
	if maxLine > 0 && len(frame) > maxLine {
		return core.Command{}, errFrameTooLong
	}
	rec, err := proto.ParseFrame(connID, frame)
	if err != nil {
		return core.Command{}, err
	}
	return core.CommandFromRecord(rec), nil
}

// frameErrorReply renders the reply for a frame that could not be mapped.
func frameErrorReply(err error) string {
	if errors.Is(err, errFrameTooLong) {
		return proto.PrefixError + "Message too long"
	}
	return proto.PrefixError + "Malformed command"
}
