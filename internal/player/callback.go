package player

import "time"

// Callback receives playback events. Methods are called from player
// goroutines and must not block.
type Callback interface {
	OnPlayBackStarted()
	OnPlayBackEnded()
	OnPlayBackStopped()
	OnPlayBackPaused()
	OnPlayBackResumed()
	OnPlayBackSpeedChanged(speed int)
	OnPlayBackSeek(t, offset time.Duration)
	OnPlayBackSeekChapter(chapter int)
}

// NopCallback ignores every event. Embed it to implement a subset.
type NopCallback struct{}

func (NopCallback) OnPlayBackStarted()                {}
func (NopCallback) OnPlayBackEnded()                  {}
func (NopCallback) OnPlayBackStopped()                {}
func (NopCallback) OnPlayBackPaused()                 {}
func (NopCallback) OnPlayBackResumed()                {}
func (NopCallback) OnPlayBackSpeedChanged(int)        {}
func (NopCallback) OnPlayBackSeek(_, _ time.Duration) {}
func (NopCallback) OnPlayBackSeekChapter(int)         {}
