package models

import "errors"

var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrVoiceoverMissing    = errors.New("voiceover missing")
	ErrNoSourcesDownloaded = errors.New("no reference videos could be downloaded")
	ErrSourceTooShort      = errors.New("source video too short")
	ErrRenderFailed        = errors.New("clip render failed")
	ErrConcatFailed        = errors.New("concatenation failed")
	ErrMuxFailed           = errors.New("audio mux failed")
	ErrTransientUpload     = errors.New("upload failed after retries")

	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid transition")
)
