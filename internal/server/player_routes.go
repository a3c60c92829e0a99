package server

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/zsiec/playcore/internal/errors"
	"github.com/zsiec/playcore/internal/player"
	"github.com/zsiec/playcore/internal/queue"
)

// Duration accepts either a Go duration string ("1m30s") or a number of
// milliseconds.
type Duration time.Duration

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch x := v.(type) {
	case float64:
		*d = Duration(time.Duration(x * float64(time.Millisecond)))
	case string:
		parsed, err := time.ParseDuration(x)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", x, err)
		}
		*d = Duration(parsed)
	default:
		return fmt.Errorf("invalid duration %s", b)
	}
	return nil
}

type openRequest struct {
	Item      string   `json:"item"`
	StartTime Duration `json:"start_time"`
	Resume    bool     `json:"resume"`
}

type seekRequest struct {
	Forward bool `json:"forward"`
	Large   bool `json:"large"`
}

type seekTimeRequest struct {
	Time Duration `json:"time"`
}

type seekPercentageRequest struct {
	Percentage float64 `json:"percentage"`
}

type seekChapterRequest struct {
	Chapter int `json:"chapter"`
}

type seekSceneRequest struct {
	Forward bool `json:"forward"`
}

type speedRequest struct {
	Speed int `json:"speed"`
}

type audioRequest struct {
	Index int `json:"index"`
}

type subtitleRequest struct {
	Index   *int  `json:"index"`
	Visible *bool `json:"visible"`
}

func (s *Server) registerPlayerRoutes(api *mux.Router) {
	api.HandleFunc("/player", s.handlePlayerStatus).Methods("GET")
	api.HandleFunc("/player/open", s.handleOpen).Methods("POST")
	api.HandleFunc("/player/close", s.handleClose).Methods("POST")
	api.HandleFunc("/player/pause", s.handlePause).Methods("POST")
	api.HandleFunc("/player/seek", s.handleSeek).Methods("POST")
	api.HandleFunc("/player/seek/time", s.handleSeekTime).Methods("POST")
	api.HandleFunc("/player/seek/percentage", s.handleSeekPercentage).Methods("POST")
	api.HandleFunc("/player/seek/chapter", s.handleSeekChapter).Methods("POST")
	api.HandleFunc("/player/seek/scene", s.handleSeekScene).Methods("POST")
	api.HandleFunc("/player/speed", s.handleSpeed).Methods("POST")
	api.HandleFunc("/player/audio", s.handleAudio).Methods("POST")
	api.HandleFunc("/player/subtitle", s.handleSubtitle).Methods("POST")
}

// playerError maps player failures onto API errors.
func playerError(err error) error {
	switch {
	case stderrors.Is(err, player.ErrNotOpen):
		return errors.NewNotInitializedError("No item is open")
	case stderrors.Is(err, player.ErrInvalidStream):
		return errors.NewValidationError(err.Error())
	case stderrors.Is(err, player.ErrInvalidState):
		return errors.WrapInvalidMessageError(err, "Invalid player state")
	case stderrors.Is(err, player.ErrNoSceneMarker):
		return errors.NewSeekOutOfRangeError(err.Error())
	case stderrors.Is(err, queue.ErrAborted):
		return errors.WrapAbortedError(err, "Playback was closed")
	default:
		return err
	}
}

// control decodes body, runs fn against an open player and replies with
// the resulting status.
func (s *Server) control(w http.ResponseWriter, r *http.Request, body interface{}, fn func() error) {
	if body != nil {
		if err := s.decodeJSON(r, body); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	if !s.player.IsOpen() {
		s.writeError(w, r, errors.NewNotInitializedError("No item is open"))
		return
	}
	if err := fn(); err != nil {
		s.writeError(w, r, playerError(err))
		return
	}
	s.writeStatus(w, r)
}

func (s *Server) writeStatus(w http.ResponseWriter, r *http.Request) {
	if err := s.writeJSON(w, http.StatusOK, s.player.Status()); err != nil {
		s.logger.WithError(err).Error("Failed to encode player status")
	}
}

func (s *Server) handlePlayerStatus(w http.ResponseWriter, r *http.Request) {
	s.writeStatus(w, r)
}

func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request) {
	var req openRequest
	if err := s.decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Item == "" {
		s.writeError(w, r, errors.NewValidationError("item is required"))
		return
	}

	opts := player.OpenOptions{
		StartTime: time.Duration(req.StartTime),
		Resume:    req.Resume,
	}
	if !s.player.Open(req.Item, opts) {
		s.writeError(w, r, errors.NewInternalError(fmt.Sprintf("Failed to open %s", req.Item)))
		return
	}
	s.writeStatus(w, r)
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	closed := s.player.Close()
	response := struct {
		Closed bool `json:"closed"`
	}{Closed: closed}
	if err := s.writeJSON(w, http.StatusOK, response); err != nil {
		s.logger.WithError(err).Error("Failed to encode close response")
	}
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.control(w, r, nil, func() error {
		s.player.Pause()
		return nil
	})
}

func (s *Server) handleSeek(w http.ResponseWriter, r *http.Request) {
	var req seekRequest
	s.control(w, r, &req, func() error {
		s.player.Seek(req.Forward, req.Large)
		return nil
	})
}

func (s *Server) handleSeekTime(w http.ResponseWriter, r *http.Request) {
	var req seekTimeRequest
	s.control(w, r, &req, func() error {
		s.player.SeekTime(time.Duration(req.Time))
		return nil
	})
}

func (s *Server) handleSeekPercentage(w http.ResponseWriter, r *http.Request) {
	var req seekPercentageRequest
	s.control(w, r, &req, func() error {
		if req.Percentage < 0 || req.Percentage > 100 {
			return errors.NewSeekOutOfRangeError(fmt.Sprintf("percentage %g outside 0-100", req.Percentage))
		}
		s.player.SeekPercentage(req.Percentage)
		return nil
	})
}

func (s *Server) handleSeekChapter(w http.ResponseWriter, r *http.Request) {
	var req seekChapterRequest
	s.control(w, r, &req, func() error {
		if !s.player.SeekChapter(req.Chapter) {
			return errors.NewSeekOutOfRangeError(fmt.Sprintf("chapter %d out of range", req.Chapter))
		}
		return nil
	})
}

func (s *Server) handleSeekScene(w http.ResponseWriter, r *http.Request) {
	var req seekSceneRequest
	s.control(w, r, &req, func() error {
		return s.player.SeekScene(req.Forward)
	})
}

func (s *Server) handleSpeed(w http.ResponseWriter, r *http.Request) {
	var req speedRequest
	s.control(w, r, &req, func() error {
		s.player.SetSpeed(req.Speed)
		return nil
	})
}

func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	var req audioRequest
	s.control(w, r, &req, func() error {
		return s.player.SetAudioStream(req.Index)
	})
}

func (s *Server) handleSubtitle(w http.ResponseWriter, r *http.Request) {
	var req subtitleRequest
	s.control(w, r, &req, func() error {
		if req.Index == nil && req.Visible == nil {
			return errors.NewValidationError("index or visible is required")
		}
		if req.Index != nil {
			if err := s.player.SetSubtitle(*req.Index); err != nil {
				return err
			}
		}
		if req.Visible != nil {
			s.player.SetSubtitleVisible(*req.Visible)
		}
		return nil
	})
}
