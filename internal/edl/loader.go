package edl

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// ErrNoEDL indicates no decision list was found next to a media file.
var ErrNoEDL = errors.New("no edit decision list found")

// ParseMPlayer reads the MPlayer EDL format: one "start end action" line
// per entry with times in seconds. Action 0 is a cut, 1 mute, 2 a scene
// marker and 3 a commercial break.
func ParseMPlayer(r io.Reader) (*List, error) {
	list := New()
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		fields := strings.Fields(text)
		if len(fields) < 2 {
			return nil, fmt.Errorf("line %d: expected start and end", line)
		}

		start, err := parseSeconds(fields[0])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		end, err := parseSeconds(fields[1])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		action := ActionCut
		if len(fields) > 2 {
			n, err := strconv.Atoi(fields[2])
			if err != nil || n < int(ActionCut) || n > int(ActionCommBreak) {
				return nil, fmt.Errorf("line %d: invalid action %q", line, fields[2])
			}
			action = Action(n)
		}

		if err := list.AddCut(Cut{Start: start, End: end, Action: action}); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read edl: %w", err)
	}
	return list, nil
}

// ParseComskip reads a Comskip frame list. The header carries the frame
// rate multiplied by 100; every following line is "startframe endframe"
// and describes a commercial break.
func ParseComskip(r io.Reader) (*List, error) {
	scanner := bufio.NewScanner(r)
	if !scanner.Scan() {
		return nil, fmt.Errorf("comskip: missing header")
	}

	header := strings.Fields(scanner.Text())
	if len(header) < 2 || !strings.HasPrefix(scanner.Text(), "FILE PROCESSING COMPLETE") {
		return nil, fmt.Errorf("comskip: invalid header %q", scanner.Text())
	}
	rate, err := strconv.ParseFloat(header[len(header)-1], 64)
	if err != nil || rate <= 0 {
		return nil, fmt.Errorf("comskip: invalid frame rate in header")
	}
	fps := rate / 100

	list := New()
	line := 1
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "-") {
			continue
		}

		fields := strings.Fields(text)
		if len(fields) < 2 {
			return nil, fmt.Errorf("line %d: expected start and end frame", line)
		}
		startFrame, err1 := strconv.ParseFloat(fields[0], 64)
		endFrame, err2 := strconv.ParseFloat(fields[1], 64)
		if err1 != nil || err2 != nil {
			return nil, fmt.Errorf("line %d: invalid frame number", line)
		}

		start, ok1 := framesToDuration(startFrame, fps)
		end, ok2 := framesToDuration(endFrame, fps)
		if !ok1 || !ok2 {
			return nil, fmt.Errorf("line %d: frame number out of range", line)
		}

		cut := Cut{
			Start:  start,
			End:    end,
			Action: ActionCommBreak,
		}
		if err := list.AddCut(cut); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read comskip: %w", err)
	}
	return list, nil
}

// LoadFile parses path choosing the format from its extension.
func LoadFile(path string) (*List, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if strings.EqualFold(filepath.Ext(path), ".txt") {
		return ParseComskip(f)
	}
	return ParseMPlayer(f)
}

// LoadForMedia looks for "<name>.edl" and then "<name>.txt" beside the
// media file.
func LoadForMedia(mediaPath string) (*List, string, error) {
	base := strings.TrimSuffix(mediaPath, filepath.Ext(mediaPath))
	for _, ext := range []string{".edl", ".txt"} {
		candidate := base + ext
		if _, err := os.Stat(candidate); err != nil {
			continue
		}
		list, err := LoadFile(candidate)
		if err != nil {
			return nil, candidate, err
		}
		return list, candidate, nil
	}
	return nil, "", ErrNoEDL
}

// maxSeconds is the longest time a time.Duration can hold.
var maxSeconds = float64(math.MaxInt64) / float64(time.Second)

func parseSeconds(s string) (time.Duration, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || !validSeconds(v) {
		return 0, fmt.Errorf("invalid time %q", s)
	}
	return time.Duration(math.Round(v * float64(time.Second))), nil
}

func validSeconds(v float64) bool {
	return v >= 0 && v < maxSeconds && !math.IsNaN(v)
}

func framesToDuration(frame, fps float64) (time.Duration, bool) {
	v := frame / fps
	if !validSeconds(v) {
		return 0, false
	}
	return time.Duration(math.Round(v * float64(time.Second))), true
}
